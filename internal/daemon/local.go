package daemon

import (
	"fmt"

	"github.com/learningpaths/learningpaths/internal/auth"
	"github.com/learningpaths/learningpaths/internal/config"
	"github.com/learningpaths/learningpaths/internal/enrollment"
	"github.com/learningpaths/learningpaths/internal/storage"
)

// Local gives offline admin commands the store and token service without
// taking the daemon lock. It is how the first staff user and token are made.
type Local struct {
	DB         *storage.DB
	Tokens     *auth.TokenService
	Enrollment *enrollment.Service
}

// OpenLocal opens the configured database and signing key
func OpenLocal(cfg *config.Config) (*Local, error) {
	paths, err := storage.NewPathsAt(cfg.Storage.BaseDir)
	if err != nil {
		return nil, err
	}
	if err := paths.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to create storage directories: %w", err)
	}

	db, err := openDB(cfg, paths)
	if err != nil {
		return nil, err
	}
	key, err := LoadSigningKey(cfg.Auth.SigningKey, paths.SigningKeyPath())
	if err != nil {
		db.Close()
		return nil, err
	}

	// Registration converts pending enrollments; milestones are left to the daemon
	courseSvc := coursesFor(db, cfg)
	return &Local{
		DB:     db,
		Tokens: auth.NewTokenService(key, cfg.Auth.Issuer, cfg.Auth.TokenTTL),
		Enrollment: enrollment.NewService(db, courseSvc, enrollment.Options{
			AllowSelfUnenrollment: cfg.Enrollment.AllowSelfUnenrollment,
		}),
	}, nil
}

func (l *Local) Close() error {
	return l.DB.Close()
}
