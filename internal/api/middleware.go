package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-roomcast/internal/types"
)

const projectIdClaim = "project_id"

func (s *RoomcastApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.Printf("panic: %v", panicError)
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// ingressAuth requires a bearer token signed with the ingress key on POST
// requests. It is a no-op when no key is configured.
func (s *RoomcastApp) ingressAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(s.signingKey) == 0 || r.Method != http.MethodPost {
			next(w, r)
			return
		}

		if err := s.verifyIngressToken(r); err != nil {
			s.log.Printf("reject broadcast for %q: %v", r.PathValue("projectId"), err)
			s.writeJson(w, http.StatusUnauthorized, types.BroadcastResponse{
				Success: false,
				Error:   "unauthorized",
			})
			return
		}

		next(w, r)
	}
}

func (s *RoomcastApp) verifyIngressToken(r *http.Request) error {
	header := r.Header.Get("Authorization")
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || tokenString == "" {
		return fmt.Errorf("missing bearer token")
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return fmt.Errorf("invalid token claims")
	}

	projectId := r.PathValue("projectId")
	if !claims.VerifyAudience(projectId, false) {
		return fmt.Errorf("audience does not match project")
	}

	if v, ok := claims[projectIdClaim]; ok {
		if claimed, _ := v.(string); claimed != projectId {
			return fmt.Errorf("project claim does not match project")
		}
	}

	return nil
}
