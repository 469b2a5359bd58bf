package session

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
)

type API interface {
	GetTokenByCredentials(ctx context.Context, email, password string) (string, error)
	Register(ctx context.Context, email, password string) (string, error)
	RemindPassword(ctx context.Context, email string) error
	ResendConfirmation(ctx context.Context) error
	SetNotificationSettings(ctx context.Context, email, push bool) error
}

type Store interface {
	Token(ctx context.Context) (string, error)
	SetToken(ctx context.Context, token string) error
	ClearToken(ctx context.Context) error
	DropAll(ctx context.Context) error
	LoadNotifyPrefs(ctx context.Context) (emailEnabled, pushEnabled bool, err error)
	UpdateNotifyPrefs(ctx context.Context, emailEnabled, pushEnabled bool) error
}

// Service — жизненный цикл сессии. "Залогинен" == в сторе лежит токен.
type Service struct {
	api   API
	store Store

	clearFeedCache func(ctx context.Context) error
}

func New(api API, store Store) *Service {
	return &Service{api: api, store: store}
}

// WithFeedCacheClear подключает сброс кэша ленты к логауту: один DropAll
// не спасает, если снапшот ленты живёт ещё и во внешнем byte-кэше.
func (s *Service) WithFeedCacheClear(fn func(ctx context.Context) error) *Service {
	s.clearFeedCache = fn
	return s
}

func (s *Service) Login(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return errors.New("email and password are required")
	}
	tok, err := s.api.GetTokenByCredentials(ctx, email, password)
	if err != nil {
		return err
	}
	if tok == "" {
		return errors.New("empty access token")
	}
	return s.store.SetToken(ctx, tok)
}

func (s *Service) Register(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return errors.New("email and password are required")
	}
	tok, err := s.api.Register(ctx, email, password)
	if err != nil {
		return err
	}
	if tok == "" {
		return errors.New("empty access token")
	}
	return s.store.SetToken(ctx, tok)
}

func (s *Service) RemindPassword(ctx context.Context, email string) error {
	if email == "" {
		return errors.New("email is required")
	}
	return s.api.RemindPassword(ctx, email)
}

func (s *Service) ResendConfirmation(ctx context.Context) error {
	return s.api.ResendConfirmation(ctx)
}

func (s *Service) LoggedIn(ctx context.Context) bool {
	tok, err := s.store.Token(ctx)
	if err != nil {
		slog.Error("load token", "error", err.Error())
		return false
	}
	return tok != ""
}

// Logout чистит токен и весь локальный кэш, включая снапшот ленты.
func (s *Service) Logout(ctx context.Context) error {
	if err := s.store.ClearToken(ctx); err != nil {
		return err
	}
	if err := s.store.DropAll(ctx); err != nil {
		return err
	}
	if s.clearFeedCache != nil {
		return s.clearFeedCache(ctx)
	}
	return nil
}

func (s *Service) NotifyPrefs(ctx context.Context) (emailEnabled, pushEnabled bool, err error) {
	return s.store.LoadNotifyPrefs(ctx)
}

// SetNotificationSettings — сначала сервер, потом локальная пара флагов.
// При отказе сервера локальное состояние не трогаем.
func (s *Service) SetNotificationSettings(ctx context.Context, email, push bool) error {
	if err := s.api.SetNotificationSettings(ctx, email, push); err != nil {
		return err
	}
	return s.store.UpdateNotifyPrefs(ctx, email, push)
}
