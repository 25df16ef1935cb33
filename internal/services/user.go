package services

import (
	"fmt"
	"regexp"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/djyosi/rubisos/internal/geo"
	"github.com/djyosi/rubisos/internal/models"
)

const jwtExpDays = 365

// Israeli mobile numbers only for now.
var phonePattern = regexp.MustCompile(`^\+972[0-9]{9}$`)

// UserService sits at the profile-CRUD collaborator boundary: it validates
// registration input, upserts the presence profile and issues session
// tokens. The presence registry stays the owner of the records.
type UserService struct {
	registry  *PresenceRegistry
	jwtSecret string
}

// NewUserService creates a new user service
func NewUserService(registry *PresenceRegistry, jwtSecret string) *UserService {
	return &UserService{
		registry:  registry,
		jwtSecret: jwtSecret,
	}
}

// RegisterRequest is the profile registration input.
type RegisterRequest struct {
	Phone     string           `json:"phone"`
	Name      string           `json:"name"`
	PushToken string           `json:"push_token,omitempty"`
	Location  *models.Location `json:"location,omitempty"`
}

// Register validates and upserts a profile, returning the stable user record
// and a session token. Registering an existing phone updates the profile and
// keeps the original identity.
func (s *UserService) Register(req RegisterRequest) (models.User, string, error) {
	if req.Phone == "" || req.Name == "" {
		return models.User{}, "", fmt.Errorf("phone and name are required")
	}
	if !phonePattern.MatchString(req.Phone) {
		return models.User{}, "", fmt.Errorf("invalid phone format, use +972XXXXXXXXX")
	}
	if req.Location != nil && !geo.ValidCoordinates(req.Location.Lat, req.Location.Lng) {
		return models.User{}, "", ErrInvalidCoordinates
	}

	user := s.registry.UpsertProfile(models.User{
		Phone:     req.Phone,
		Name:      req.Name,
		PushToken: req.PushToken,
		Location:  req.Location,
	})

	token, err := s.GenerateJWT(user.ID)
	if err != nil {
		return models.User{}, "", fmt.Errorf("failed to generate token: %w", err)
	}
	return user, token, nil
}

// GenerateJWT generates a session token for a user
func (s *UserService) GenerateJWT(userID string) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().AddDate(0, 0, jwtExpDays).Unix(),
		"iat":     time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateJWT validates a session token and returns the user ID
func (s *UserService) ValidateJWT(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})

	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}

	userID, ok := claims["user_id"].(string)
	if !ok {
		return "", fmt.Errorf("user_id not found in token")
	}

	return userID, nil
}
