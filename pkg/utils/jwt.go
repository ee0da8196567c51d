package utils

import (
	"time"

	common_models "go-ptw/internal/common/models"

	"github.com/golang-jwt/jwt/v5"
)

var jwtSecret = []byte("secret")

// SetSecret allows injecting the secret from config
func SetSecret(secret string) {
	jwtSecret = []byte(secret)
}

type claimsKey string

// UserClaimsKey is the fiber locals and context key holding *UserClaims.
const UserClaimsKey claimsKey = "user_claims"

type UserClaims struct {
	UserID    string             `json:"user_id"`
	Name      string             `json:"name,omitempty"`
	Role      common_models.Role `json:"role"`
	CompanyID string             `json:"company_id"`
	PlantID   string             `json:"plant_id,omitempty"`
	AreaID    string             `json:"area_id,omitempty"`
	jwt.RegisteredClaims
}

// Identity converts the token claims to the engine's caller identity.
func (c *UserClaims) Identity() common_models.Identity {
	return common_models.Identity{
		UserID:    c.UserID,
		Name:      c.Name,
		Role:      c.Role,
		CompanyID: c.CompanyID,
		PlantID:   c.PlantID,
		AreaID:    c.AreaID,
	}
}

func GenerateToken(id common_models.Identity) (string, error) {
	claims := UserClaims{
		UserID:    id.UserID,
		Name:      id.Name,
		Role:      id.Role,
		CompanyID: id.CompanyID,
		PlantID:   id.PlantID,
		AreaID:    id.AreaID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour * 72)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

func ValidateToken(tokenString string) (*UserClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return jwtSecret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*UserClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, jwt.ErrTokenSignatureInvalid
}
