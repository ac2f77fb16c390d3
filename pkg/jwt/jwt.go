package jwt

import (
	"encoding/json"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/benmeehan/sos-agent/pkg/encryption"
	"github.com/benmeehan/sos-agent/pkg/file"
)

// JWTManagerInterface defines methods to manage the user's session token.
type JWTManagerInterface interface {
	LoadJWT() error
	SaveJWT(token string) error
	ClearJWT() error
	GetJWT() string
	IsJWTValid() (bool, error)
}

// tokenData is the on-disk (encrypted) representation of the session.
type tokenData struct {
	JWTToken string `json:"jwt_token,omitempty"`
}

// JWTManager keeps the session token issued by the backend. The agent never
// holds the signing secret, so tokens are only parsed for their expiry.
type JWTManager struct {
	TokenFilePath     string
	FileOps           file.FileOperations
	EncryptionManager encryption.EncryptionManagerInterface

	mu    sync.RWMutex
	token string
	now   func() time.Time
}

// NewJWTManager initializes a new JWTManager backed by an encrypted token file.
func NewJWTManager(tokenFilePath string, fileOps file.FileOperations, encryptionManager encryption.EncryptionManagerInterface) *JWTManager {
	return &JWTManager{
		TokenFilePath:     tokenFilePath,
		FileOps:           fileOps,
		EncryptionManager: encryptionManager,
		now:               time.Now,
	}
}

// LoadJWT reads the token from the token file.
// A missing or empty file leaves the manager unauthenticated.
func (jm *JWTManager) LoadJWT() error {
	data, err := jm.FileOps.ReadFileRaw(jm.TokenFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			jm.setToken("")
			return nil
		}
		return err
	}

	if len(data) == 0 {
		jm.setToken("")
		return nil
	}

	decryptedData, err := jm.EncryptionManager.Decrypt(data)
	if err != nil {
		return err
	}

	var tokens tokenData
	if err := json.Unmarshal(decryptedData, &tokens); err != nil {
		return errors.New("failed to parse token data: " + err.Error())
	}

	jm.setToken(tokens.JWTToken)
	return nil
}

// SaveJWT persists a new session token.
func (jm *JWTManager) SaveJWT(token string) error {
	if _, err := parseUnverified(token); err != nil {
		return errors.New("malformed JWT: " + err.Error())
	}

	if err := jm.persist(tokenData{JWTToken: token}); err != nil {
		return err
	}

	jm.setToken(token)
	return nil
}

// ClearJWT logs the session out.
func (jm *JWTManager) ClearJWT() error {
	if err := jm.persist(tokenData{}); err != nil {
		return err
	}
	jm.setToken("")
	return nil
}

// GetJWT retrieves the current JWT token only if it is valid.
func (jm *JWTManager) GetJWT() string {
	isValid, err := jm.IsJWTValid()
	if err != nil || !isValid {
		return ""
	}

	jm.mu.RLock()
	defer jm.mu.RUnlock()
	return jm.token
}

// IsJWTValid reports whether a token is present and not past its exp claim.
// Tokens without an exp claim are treated as non-expiring.
func (jm *JWTManager) IsJWTValid() (bool, error) {
	jm.mu.RLock()
	tokenString := jm.token
	jm.mu.RUnlock()

	if tokenString == "" {
		return false, nil
	}

	token, err := parseUnverified(tokenString)
	if err != nil {
		return false, nil // Unparseable tokens are invalid, not an error
	}

	exp, err := token.Claims.GetExpirationTime()
	if err != nil {
		return false, errors.New("JWT expiration (exp) claim invalid: " + err.Error())
	}
	if exp == nil {
		return true, nil
	}

	return jm.now().Before(exp.Time), nil
}

func (jm *JWTManager) setToken(token string) {
	jm.mu.Lock()
	jm.token = token
	jm.mu.Unlock()
}

// persist serializes and encrypts the token data for storage.
func (jm *JWTManager) persist(tokens tokenData) error {
	data, err := json.Marshal(tokens)
	if err != nil {
		return errors.New("failed to serialize token data: " + err.Error())
	}

	encryptedData, err := jm.EncryptionManager.Encrypt(data)
	if err != nil {
		return errors.New("failed to encrypt token data: " + err.Error())
	}

	return jm.FileOps.WriteFileRaw(jm.TokenFilePath, encryptedData)
}

func parseUnverified(tokenString string) (*jwt.Token, error) {
	token, _, err := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
	return token, err
}
