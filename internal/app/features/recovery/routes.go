// internal/app/features/recovery/routes.go
package recovery

import (
	"github.com/dalemusser/familyspace/internal/app/system/auth"
	"github.com/go-chi/chi/v5"
)

// Routes mounts the recovery API. Typically: r.Mount("/recovery", recovery.Routes(handler))
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()

	r.Group(func(pr chi.Router) {
		pr.Use(auth.RequireSignedIn)

		pr.Post("/claims", h.HandleSubmit)
		pr.Get("/families/{familyID}/claim", h.ServeFamilyClaim)
		pr.Get("/families/{familyID}/pending-endorsements", h.ServePendingEndorsements)

		pr.Route("/claims/{claimID}", func(cr chi.Router) {
			cr.Get("/", h.ServeClaim)
			cr.Post("/endorsements", h.HandleEndorse)
			cr.Put("/endorsements", h.HandleUpdateEndorsement)
			cr.Get("/endorsements", h.ServeEndorsements)
			cr.With(h.Limiter.Middleware).Post("/verify", h.HandleVerify)
			cr.With(h.Limiter.Middleware).Post("/resend", h.HandleResend)
			cr.Post("/grant", h.HandleGrant)
			cr.Post("/withdraw", h.HandleWithdraw)
			cr.Get("/history", h.ServeHistory)
		})
	})

	return r
}
