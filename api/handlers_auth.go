package main

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"eventhub/data/models"
	"eventhub/data/repository"
	"eventhub/services/auth"
)

var errEmailTaken = errors.New("email is already registered")

type registerInput struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type loginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type emailInput struct {
	Email string `json:"email" validate:"required,email"`
}

type passwordInput struct {
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type updatePasswordInput struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8,max=72"`
}

type session struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

func (app *application) registerUser(w http.ResponseWriter, r *http.Request) {
	var in registerInput
	if err := app.ReadJSON(w, r, &in, true); err != nil {
		app.sendError(w, r, badRequest(err))
		return
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		app.sendError(w, r, err)
		return
	}

	u := models.User{
		Name:     strings.TrimSpace(in.Name),
		Email:    strings.ToLower(strings.TrimSpace(in.Email)),
		Password: hash,
		Role:     models.RoleUser,
	}
	u.ID, err = app.users.CreateUser(r.Context(), u)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			err = badRequest(errEmailTaken)
		}
		app.sendError(w, r, err)
		return
	}

	verify, err := app.tokens.Issue(u, auth.PurposeVerify)
	if err != nil {
		app.sendError(w, r, err)
		return
	}
	app.background("verification-email", func(ctx context.Context) error {
		return app.mail.SendVerification(ctx, u, verify)
	})

	app.sendSession(w, r, http.StatusCreated, u)
}

func (app *application) login(w http.ResponseWriter, r *http.Request) {
	var in loginInput
	if err := app.ReadJSON(w, r, &in, true); err != nil {
		app.sendError(w, r, badRequest(err))
		return
	}

	u, err := app.users.GetUserByEmail(r.Context(), in.Email)
	if errors.Is(err, repository.ErrNotFound) {
		app.sendError(w, r, auth.ErrInvalidCredentials)
		return
	}
	if err != nil {
		app.sendError(w, r, err)
		return
	}
	if err := auth.CheckPassword(u.Password, in.Password); err != nil {
		app.sendError(w, r, err)
		return
	}

	app.sendSession(w, r, http.StatusOK, u)
}

func (app *application) me(w http.ResponseWriter, r *http.Request) {
	u, err := app.users.GetUserByID(r.Context(), actor(r).UserID)
	if err != nil {
		app.sendError(w, r, err)
		return
	}
	_ = app.SendSuccessJSON(w, http.StatusOK, u, "user")
}

func (app *application) verifyEmail(w http.ResponseWriter, r *http.Request) {
	u, _, err := app.userFromToken(r, auth.PurposeVerify)
	if err != nil {
		app.sendError(w, r, err)
		return
	}

	if !u.EmailVerified {
		u.EmailVerified = true
		if err := app.users.UpdateUser(r.Context(), u); err != nil {
			app.sendError(w, r, err)
			return
		}
	}
	_ = app.SendMessageJSON(w, http.StatusOK, "Email verified successfully")
}

// forgotPassword answers the same way whether or not the address is known.
func (app *application) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var in emailInput
	if err := app.ReadJSON(w, r, &in, true); err != nil {
		app.sendError(w, r, badRequest(err))
		return
	}

	u, err := app.users.GetUserByEmail(r.Context(), in.Email)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		app.sendError(w, r, err)
		return
	default:
		token, err := app.tokens.Issue(u, auth.PurposeReset)
		if err != nil {
			app.sendError(w, r, err)
			return
		}
		app.background("password-reset-email", func(ctx context.Context) error {
			return app.mail.SendPasswordReset(ctx, u, token)
		})
	}

	_ = app.SendMessageJSON(w, http.StatusOK, "If that email is registered, a reset link has been sent")
}

func (app *application) resetPassword(w http.ResponseWriter, r *http.Request) {
	var in passwordInput
	if err := app.ReadJSON(w, r, &in, true); err != nil {
		app.sendError(w, r, badRequest(err))
		return
	}

	u, claims, err := app.userFromToken(r, auth.PurposeReset)
	if err != nil {
		app.sendError(w, r, err)
		return
	}
	if claims.Fingerprint != auth.Fingerprint(u.Password) {
		app.sendError(w, r, auth.ErrInvalidToken)
		return
	}

	u.Password, err = auth.HashPassword(in.Password)
	if err != nil {
		app.sendError(w, r, err)
		return
	}
	if err := app.users.UpdateUser(r.Context(), u); err != nil {
		app.sendError(w, r, err)
		return
	}
	_ = app.SendMessageJSON(w, http.StatusOK, "Password has been reset")
}

// updatePassword changes the actor's password. Reset links issued before the
// change stop working because their fingerprint no longer matches.
func (app *application) updatePassword(w http.ResponseWriter, r *http.Request) {
	var in updatePasswordInput
	if err := app.ReadJSON(w, r, &in, true); err != nil {
		app.sendError(w, r, badRequest(err))
		return
	}

	u, err := app.users.GetUserByID(r.Context(), actor(r).UserID)
	if err != nil {
		app.sendError(w, r, err)
		return
	}
	if err := auth.CheckPassword(u.Password, in.CurrentPassword); err != nil {
		app.sendError(w, r, err)
		return
	}

	u.Password, err = auth.HashPassword(in.NewPassword)
	if err != nil {
		app.sendError(w, r, err)
		return
	}
	if err := app.users.UpdateUser(r.Context(), u); err != nil {
		app.sendError(w, r, err)
		return
	}

	app.log.WithField("user_id", u.ID).Info("password updated")
	app.sendSession(w, r, http.StatusOK, u)
}

// logout has nothing to revoke; clients drop their bearer token.
func (app *application) logout(w http.ResponseWriter, r *http.Request) {
	_ = app.SendMessageJSON(w, http.StatusOK, "Logged out successfully")
}

func (app *application) userFromToken(r *http.Request, purpose auth.Purpose) (models.User, auth.Claims, error) {
	claims, err := app.tokens.Verify(r.PathValue("token"), purpose)
	if err != nil {
		return models.User{}, auth.Claims{}, err
	}
	id, err := claims.UserID()
	if err != nil {
		return models.User{}, auth.Claims{}, err
	}

	u, err := app.users.GetUserByID(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		return models.User{}, auth.Claims{}, auth.ErrInvalidToken
	}
	return u, claims, err
}

func (app *application) sendSession(w http.ResponseWriter, r *http.Request, code int, u models.User) {
	token, err := app.tokens.Issue(u, auth.PurposeAccess)
	if err != nil {
		app.sendError(w, r, err)
		return
	}
	_ = app.SendSuccessJSON(w, code, session{Token: token, User: u})
}

// background hands side effects of a request to the task queue.
func (app *application) background(name string, fn func(ctx context.Context) error) {
	if err := app.tasks.Enqueue(name, fn); err != nil {
		app.log.WithError(err).WithField("task", name).Error("dropped background task")
	}
}
