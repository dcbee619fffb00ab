package routers

import (
	"talentai/learning/internal/handlers"
	"talentai/learning/internal/middleware"
	"talentai/learning/internal/models"

	"github.com/go-chi/chi/v5"
)

// LearningRoutes mounts the learning API. Operator actions sit behind
// RequireJWT, which passes everything through when jwtSecret is empty.
func LearningRoutes(router *chi.Mux, learningHandler *handlers.LearningHandler, modelHandler *handlers.ModelHandler, jwtSecret string) {
	router.Route("/api/v1/learning", func(r chi.Router) {
		r.With(middleware.ValidateRequest[*models.ConversationRequest]()).Post("/conversations", learningHandler.RecordConversation)
		r.With(middleware.ValidateRequest[*models.FeedbackRequest]()).Post("/conversations/{id}/feedback", learningHandler.RecordFeedback)
		r.With(middleware.ValidateRequest[*models.BehaviorRequest]()).Post("/conversations/{id}/behavior", learningHandler.RecordBehavior)
		r.With(middleware.ValidateRequest[*models.PredictRequest]()).Post("/predict", learningHandler.Predict)

		r.Get("/status", learningHandler.Status)
		r.Get("/insights", learningHandler.Insights)
		r.Get("/performance", learningHandler.Performance)
		r.Get("/models", modelHandler.ListModels)
		r.Get("/experiment", modelHandler.Experiment)

		r.Group(func(op chi.Router) {
			op.Use(middleware.RequireJWT(jwtSecret))
			op.With(middleware.ValidateRequest[*models.RetrainRequest]()).Post("/retrain", learningHandler.Retrain)
			op.With(middleware.ValidateRequest[*models.ConfigPatch]()).Put("/config", learningHandler.UpdateConfig)
			op.With(middleware.ValidateRequest[*models.RollbackRequest]()).Post("/rollback", modelHandler.Rollback)
		})
	})
}
