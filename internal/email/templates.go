package email

import "fmt"

// MagicLinkHTML arma el cuerpo HTML del correo de acceso sin contraseña.
func MagicLinkHTML(link string, ttlMinutes int) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
  <body style="font-family: sans-serif; max-width: 560px; margin: 0 auto;">
    <h2>Tu enlace de acceso</h2>
    <p>Hacé clic en el botón para iniciar sesión. El enlace vale por %d minutos y sirve una sola vez.</p>
    <p style="margin: 24px 0;">
      <a href="%s" style="background: #1a73e8; color: #fff; padding: 12px 24px; border-radius: 4px; text-decoration: none;">Iniciar sesión</a>
    </p>
    <p style="color: #666; font-size: 13px;">Si no pediste este correo, ignoralo. Nadie puede entrar sin el enlace.</p>
  </body>
</html>`, ttlMinutes, link)
}

// MagicLinkText es la versión texto plano del mismo correo.
func MagicLinkText(link string, ttlMinutes int) string {
	return fmt.Sprintf("Tu enlace de acceso (vale %d minutos, un solo uso):\n\n%s\n\nSi no pediste este correo, ignoralo.\n", ttlMinutes, link)
}
