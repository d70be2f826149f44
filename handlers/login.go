package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"

	"slot-booking/database"
	apperrors "slot-booking/errors"
)

const tokenLifetime = 8 * time.Hour

func isPasswordHashCorrect(dbHash, pass string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(dbHash), []byte(pass))
	return err == nil
}

func (h *Handler) Login(c *fiber.Ctx) error {
	type Credentials struct {
		Login    string `json:"login"`
		Password string `json:"password"`
	}

	creds := new(Credentials)
	if err := c.BodyParser(creds); err != nil {
		return apperrors.RaiseBadRequestError(c, "cannot parse credentials")
	}

	user, err := h.users.GetUserData(c.UserContext(), creds.Login)
	if errors.Is(err, database.ErrUserNotFound) {
		return apperrors.RaiseUnauthorizedError(c, "invalid login or password")
	}
	if err != nil {
		h.log.Error("login lookup failed", "login", creds.Login, "error", err)
		return apperrors.RaiseInternalServerError(c, "error on login request when comparing user data")
	}

	if !isPasswordHashCorrect(user.HashedPassword, creds.Password) {
		return apperrors.RaiseUnauthorizedError(c, "invalid login or password")
	}

	token := jwt.New(jwt.SigningMethodHS256)

	claims := token.Claims.(jwt.MapClaims)
	claims["sub"] = user.Id
	claims["username"] = user.Login
	claims["role"] = user.Role
	claims["exp"] = time.Now().Add(tokenLifetime).Unix()

	t, err := token.SignedString(h.signKey)
	if err != nil {
		return c.SendStatus(fiber.StatusInternalServerError)
	}

	return c.JSON(fiber.Map{"status": "success", "message": "Success login", "data": t})
}
