package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"schoolmail/config"
)

// CORS returns the cross-origin policy for the API. Origins come from
// configuration; credentials are allowed because the frontend may carry
// the access token in a cookie.
func CORS() fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins:     config.AppConfig.AllowedOrigins,
		AllowCredentials: true,
		AllowMethods:     "GET,POST,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With",
		ExposeHeaders:    "Content-Length",
		MaxAge:           3600,
	})
}
