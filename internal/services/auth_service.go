// Path: internal/services/auth_service.go
package services

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/punit745/Core-Banking-Ledger/internal/audit"
	"github.com/punit745/Core-Banking-Ledger/internal/ledger"
	"github.com/punit745/Core-Banking-Ledger/internal/models"
)

const tokenIssuer = "core-banking-api"

// RegisterParams carries a new customer registration.
type RegisterParams struct {
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	Password    string     `json:"password"`
	FullName    string     `json:"full_name"`
	PhoneNumber *string    `json:"phone_number"`
	DateOfBirth *time.Time `json:"date_of_birth"`
}

// UpdateProfileParams carries the mutable profile fields. Nil means keep
// the current value.
type UpdateProfileParams struct {
	Email       *string `json:"email"`
	FullName    *string `json:"full_name"`
	PhoneNumber *string `json:"phone_number"`
}

// AuthService handles customer and employee authentication.
type AuthService interface {
	Register(p RegisterParams) (*models.User, error)
	Login(username, password string) (string, *models.User, error)
	EmployeeLogin(employeeID, password string) (string, *models.Employee, error)
	ValidateToken(token string) (*models.Claims, error)
	Profile(userID int64) (*models.User, error)
	UpdateProfile(userID int64, p UpdateProfileParams) (*models.User, error)
	ChangePassword(userID int64, currentPassword, newPassword string) error
}

type authService struct {
	db       *gorm.DB
	jwtKey   string
	tokenTTL time.Duration
}

// NewAuthService creates a new AuthService.
func NewAuthService(db *gorm.DB, jwtSecret string, tokenTTL time.Duration) AuthService {
	return &authService{
		db:       db,
		jwtKey:   jwtSecret,
		tokenTTL: tokenTTL,
	}
}

// Register creates a new customer with a pending KYC status. No account is
// opened here; accounts are a separate, explicit step.
func (s *authService) Register(p RegisterParams) (*models.User, error) {
	if err := validateRegistration(p); err != nil {
		return nil, err
	}

	var user models.User
	err := s.db.Transaction(func(tx *gorm.DB) error {
		// Check uniqueness up front so the caller gets a specific message
		// instead of a raw constraint violation.
		var count int64
		if err := tx.Model(&models.User{}).Where("username = ?", p.Username).Count(&count).Error; err != nil {
			return &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to check username", Details: err.Error(), Err: err}
		}
		if count > 0 {
			return &ledger.AppError{Kind: ledger.KindConflict, Message: "Username already taken", Details: fmt.Sprintf("username: %s", p.Username)}
		}
		if err := tx.Model(&models.User{}).Where("email = ?", p.Email).Count(&count).Error; err != nil {
			return &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to check email", Details: err.Error(), Err: err}
		}
		if count > 0 {
			return &ledger.AppError{Kind: ledger.KindConflict, Message: "Email already registered", Details: fmt.Sprintf("email: %s", p.Email)}
		}
		if p.PhoneNumber != nil {
			if err := tx.Model(&models.User{}).Where("phone_number = ?", *p.PhoneNumber).Count(&count).Error; err != nil {
				return &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to check phone number", Details: err.Error(), Err: err}
			}
			if count > 0 {
				return &ledger.AppError{Kind: ledger.KindConflict, Message: "Phone number already registered", Details: fmt.Sprintf("phone_number: %s", *p.PhoneNumber)}
			}
		}

		hashed, err := bcrypt.GenerateFromPassword([]byte(p.Password), bcrypt.DefaultCost)
		if err != nil {
			return &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to hash password", Details: err.Error(), Err: err}
		}

		user = models.User{
			Username:     p.Username,
			PasswordHash: string(hashed),
			Email:        p.Email,
			PhoneNumber:  p.PhoneNumber,
			FullName:     p.FullName,
			DateOfBirth:  p.DateOfBirth,
			KYCStatus:    models.KYCPending,
			Role:         models.RoleCustomer,
			IsActive:     true,
		}
		if err := tx.Create(&user).Error; err != nil {
			return &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to insert user", Details: err.Error(), Err: err}
		}

		return audit.RecordDB(tx, audit.Entry{
			EntityType: models.EntityUser,
			EntityID:   strconv.FormatInt(user.UserID, 10),
			ActionType: models.ActionCreate,
			New: map[string]any{
				"username":   user.Username,
				"email":      user.Email,
				"kyc_status": user.KYCStatus,
				"role":       user.Role,
			},
			PerformedBy: "user:" + strconv.FormatInt(user.UserID, 10),
		})
	})
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// Login authenticates a customer and returns a signed JWT.
func (s *authService) Login(username, password string) (string, *models.User, error) {
	var user models.User
	err := s.db.Where("username = ?", username).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, &ledger.AppError{Kind: ledger.KindUnauthorized, Message: "Invalid credentials", Details: "User not found"}
		}
		return "", nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to query user", Details: err.Error(), Err: err}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, &ledger.AppError{Kind: ledger.KindUnauthorized, Message: "Invalid credentials", Details: "Incorrect password"}
	}
	if !user.IsActive {
		return "", nil, &ledger.AppError{Kind: ledger.KindForbidden, Message: "User is deactivated", Details: fmt.Sprintf("user_id: %d", user.UserID)}
	}

	token, err := s.signToken(&models.Claims{
		UserID:   user.UserID,
		Username: user.Username,
		Role:     user.Role,
	})
	if err != nil {
		return "", nil, err
	}
	return token, &user, nil
}

// EmployeeLogin authenticates a back-office employee and returns a signed
// JWT carrying the employee id and department.
func (s *authService) EmployeeLogin(employeeID, password string) (string, *models.Employee, error) {
	var emp models.Employee
	err := s.db.Where("employee_id = ?", employeeID).First(&emp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, &ledger.AppError{Kind: ledger.KindUnauthorized, Message: "Invalid credentials", Details: "Employee not found"}
		}
		return "", nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to query employee", Details: err.Error(), Err: err}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(emp.PasswordHash), []byte(password)); err != nil {
		return "", nil, &ledger.AppError{Kind: ledger.KindUnauthorized, Message: "Invalid credentials", Details: "Incorrect password"}
	}
	if !emp.IsActive {
		return "", nil, &ledger.AppError{Kind: ledger.KindForbidden, Message: "Employee is deactivated", Details: fmt.Sprintf("employee_id: %s", emp.EmployeeID)}
	}

	token, err := s.signToken(&models.Claims{
		Role:       models.RoleEmployee,
		EmployeeID: emp.EmployeeID,
		Department: emp.Department,
	})
	if err != nil {
		return "", nil, err
	}
	return token, &emp, nil
}

func (s *authService) signToken(claims *models.Claims) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    tokenIssuer,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.jwtKey))
	if err != nil {
		return "", &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to sign token", Details: err.Error(), Err: err}
	}
	return signed, nil
}

// ValidateToken validates a JWT and returns the claims.
func (s *authService) ValidateToken(tokenString string) (*models.Claims, error) {
	claims := &models.Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtKey), nil
	})

	if err != nil {
		// Distinguish between different parsing errors for better diagnostics
		if ve, ok := err.(*jwt.ValidationError); ok {
			if ve.Errors&jwt.ValidationErrorMalformed != 0 {
				return nil, &ledger.AppError{Kind: ledger.KindUnauthorized, Message: "Invalid token", Details: "Malformed token"}
			} else if ve.Errors&(jwt.ValidationErrorExpired|jwt.ValidationErrorNotValidYet) != 0 {
				return nil, &ledger.AppError{Kind: ledger.KindUnauthorized, Message: "Invalid token", Details: "Token expired or not yet valid"}
			}
		}
		return nil, &ledger.AppError{Kind: ledger.KindUnauthorized, Message: "Invalid token", Details: err.Error(), Err: err}
	}

	if !token.Valid {
		return nil, &ledger.AppError{Kind: ledger.KindUnauthorized, Message: "Invalid token", Details: "Token is not valid"}
	}

	return claims, nil
}

// Profile loads a customer by id.
func (s *authService) Profile(userID int64) (*models.User, error) {
	var user models.User
	err := s.db.First(&user, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &ledger.AppError{Kind: ledger.KindNotFound, Message: "User not found", Details: fmt.Sprintf("user_id: %d", userID)}
		}
		return nil, &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to query user", Details: err.Error(), Err: err}
	}
	return &user, nil
}

// UpdateProfile applies the provided profile fields and audits the change.
func (s *authService) UpdateProfile(userID int64, p UpdateProfileParams) (*models.User, error) {
	var user models.User
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &ledger.AppError{Kind: ledger.KindNotFound, Message: "User not found", Details: fmt.Sprintf("user_id: %d", userID)}
			}
			return &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to query user", Details: err.Error(), Err: err}
		}

		oldValue := map[string]any{}
		newValue := map[string]any{}
		updates := map[string]any{}

		if p.Email != nil && *p.Email != user.Email {
			if !strings.Contains(*p.Email, "@") || len(*p.Email) > 100 {
				return &ledger.AppError{Kind: ledger.KindInvalidInput, Message: "Invalid email address", Details: fmt.Sprintf("email: %s", *p.Email)}
			}
			var count int64
			if err := tx.Model(&models.User{}).Where("email = ? AND user_id <> ?", *p.Email, userID).Count(&count).Error; err != nil {
				return &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to check email", Details: err.Error(), Err: err}
			}
			if count > 0 {
				return &ledger.AppError{Kind: ledger.KindConflict, Message: "Email already registered", Details: fmt.Sprintf("email: %s", *p.Email)}
			}
			oldValue["email"] = user.Email
			newValue["email"] = *p.Email
			updates["email"] = *p.Email
		}
		if p.FullName != nil && *p.FullName != user.FullName {
			if *p.FullName == "" {
				return &ledger.AppError{Kind: ledger.KindInvalidInput, Message: "Full name is required"}
			}
			oldValue["full_name"] = user.FullName
			newValue["full_name"] = *p.FullName
			updates["full_name"] = *p.FullName
		}
		if p.PhoneNumber != nil {
			current := ""
			if user.PhoneNumber != nil {
				current = *user.PhoneNumber
			}
			if *p.PhoneNumber != current {
				var count int64
				if err := tx.Model(&models.User{}).Where("phone_number = ? AND user_id <> ?", *p.PhoneNumber, userID).Count(&count).Error; err != nil {
					return &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to check phone number", Details: err.Error(), Err: err}
				}
				if count > 0 {
					return &ledger.AppError{Kind: ledger.KindConflict, Message: "Phone number already registered", Details: fmt.Sprintf("phone_number: %s", *p.PhoneNumber)}
				}
				oldValue["phone_number"] = current
				newValue["phone_number"] = *p.PhoneNumber
				updates["phone_number"] = *p.PhoneNumber
			}
		}

		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&user).Updates(updates).Error; err != nil {
			return &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to update profile", Details: err.Error(), Err: err}
		}

		return audit.RecordDB(tx, audit.Entry{
			EntityType:  models.EntityUser,
			EntityID:    strconv.FormatInt(userID, 10),
			ActionType:  models.ActionUpdate,
			Old:         oldValue,
			New:         newValue,
			PerformedBy: "user:" + strconv.FormatInt(userID, 10),
		})
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// ChangePassword verifies the current password before setting a new one.
func (s *authService) ChangePassword(userID int64, currentPassword, newPassword string) error {
	if len(newPassword) < 8 {
		return &ledger.AppError{Kind: ledger.KindInvalidInput, Message: "Password must be at least 8 characters"}
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &ledger.AppError{Kind: ledger.KindNotFound, Message: "User not found", Details: fmt.Sprintf("user_id: %d", userID)}
			}
			return &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to query user", Details: err.Error(), Err: err}
		}

		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)); err != nil {
			return &ledger.AppError{Kind: ledger.KindUnauthorized, Message: "Current password is incorrect"}
		}

		hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
		if err != nil {
			return &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to hash password", Details: err.Error(), Err: err}
		}
		if err := tx.Model(&user).Update("password_hash", string(hashed)).Error; err != nil {
			return &ledger.AppError{Kind: ledger.KindInternal, Message: "Failed to update password", Details: err.Error(), Err: err}
		}

		return audit.RecordDB(tx, audit.Entry{
			EntityType:  models.EntityUser,
			EntityID:    strconv.FormatInt(userID, 10),
			ActionType:  models.ActionUpdate,
			New:         map[string]any{"password_changed": true},
			PerformedBy: "user:" + strconv.FormatInt(userID, 10),
		})
	})
}

func validateRegistration(p RegisterParams) error {
	if len(p.Username) < 3 || len(p.Username) > 50 {
		return &ledger.AppError{Kind: ledger.KindInvalidInput, Message: "Username must be between 3 and 50 characters", Details: fmt.Sprintf("username: %s", p.Username)}
	}
	if len(p.Password) < 8 {
		return &ledger.AppError{Kind: ledger.KindInvalidInput, Message: "Password must be at least 8 characters"}
	}
	if !strings.Contains(p.Email, "@") || len(p.Email) > 100 {
		return &ledger.AppError{Kind: ledger.KindInvalidInput, Message: "Invalid email address", Details: fmt.Sprintf("email: %s", p.Email)}
	}
	if p.FullName == "" {
		return &ledger.AppError{Kind: ledger.KindInvalidInput, Message: "Full name is required"}
	}
	if p.DateOfBirth != nil && !p.DateOfBirth.Before(time.Now()) {
		return &ledger.AppError{Kind: ledger.KindInvalidInput, Message: "Date of birth must be in the past"}
	}
	return nil
}
