package service

import (
	"github.com/rs/zerolog"

	"github.com/leshachaplin/feedbackhook/internal/domain"
)

// Hook accepts events one at a time.
type Hook interface {
	OnEvent(event domain.Event) bool
}

type Service struct {
	hook   Hook
	logger zerolog.Logger
}

func New(hook Hook, logger zerolog.Logger) *Service {
	return &Service{
		hook:   hook,
		logger: logger.With().Str("Service", "ProcessEvents").Logger(),
	}
}
