package setup

import (
	"github.com/akulagin/authd/internal/config"
	"github.com/akulagin/authd/internal/email"
	"github.com/akulagin/authd/internal/handler"
	"github.com/akulagin/authd/internal/jwt"
	"github.com/akulagin/authd/internal/service"
	"github.com/akulagin/authd/internal/storage/pg"
)

// Dependencies holds all initialized application dependencies.
type Dependencies struct {
	Storage *pg.Storage
	Handler *handler.Handler
	Jwt     jwt.JwtService
	Config  *config.Config
}

// SetupDependencies initializes all dependencies required for the application.
func SetupDependencies(cfg *config.Config) (*Dependencies, error) {
	storage, err := pg.New(cfg)
	if err != nil {
		return nil, err
	}

	sender := email.New(cfg.Email())
	tokens := jwt.New(cfg.JwtKey(), cfg.JwtTTL())

	auth := service.NewAuth(storage, sender, tokens)

	h := handler.New(auth, storage, cfg)

	return &Dependencies{
		Storage: storage,
		Handler: h,
		Jwt:     tokens,
		Config:  cfg,
	}, nil
}
