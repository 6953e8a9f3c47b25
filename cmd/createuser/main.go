// Command createuser provisions an account directly in the database, for
// bootstrapping the first administrator or seeding test environments.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BradenHooton/authcore/internal/config"
	"github.com/BradenHooton/authcore/internal/database"
	"github.com/BradenHooton/authcore/internal/models"
	"github.com/BradenHooton/authcore/internal/repositories"
	pkgauth "github.com/BradenHooton/authcore/pkg/auth"
)

type options struct {
	email    string
	name     string
	role     string
	verified bool
}

// userCreator is the slice of the user repository this command needs
type userCreator interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	opts := options{}
	flag.StringVar(&opts.email, "email", "", "account email (required)")
	flag.StringVar(&opts.name, "name", "", "display name")
	flag.StringVar(&opts.role, "role", models.RoleUser, "account role: user, creator or admin")
	flag.BoolVar(&opts.verified, "verified", true, "mark the email address as verified")
	flag.Parse()

	// The password is read from stdin so it never shows up in shell history.
	password, err := readPassword(os.Stdin)
	if err != nil {
		logger.Error("failed to read password", slog.Any("error", err))
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.NewConnection(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	user, err := createUser(ctx, repositories.NewUserRepository(db.Pool), opts, password, cfg.Auth.BcryptCost)
	if err != nil {
		logger.Error("failed to create user", slog.Any("error", err))
		db.Close()
		os.Exit(1)
	}

	fmt.Println(user.ID)
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func createUser(ctx context.Context, users userCreator, opts options, password string, bcryptCost int) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(opts.email))
	if email == "" {
		return nil, fmt.Errorf("email is required: %w", models.ErrBadRequest)
	}

	switch opts.role {
	case models.RoleUser, models.RoleCreator, models.RoleAdmin:
	default:
		return nil, fmt.Errorf("unknown role %q: %w", opts.role, models.ErrBadRequest)
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		return nil, err
	}

	hash, err := pkgauth.HashPassword(password, bcryptCost)
	if err != nil {
		return nil, err
	}

	user, err := users.Create(ctx, &models.User{
		Email:         email,
		PasswordHash:  hash,
		Name:          strings.TrimSpace(opts.name),
		Role:          opts.role,
		Status:        models.UserStatusActive,
		EmailVerified: opts.verified,
	})
	if errors.Is(err, models.ErrConflict) {
		return nil, fmt.Errorf("an account with email %s already exists: %w", email, err)
	}
	return user, err
}
