package auth

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextAddressKey is the gin context key holding the verified signer
const ContextAddressKey = "user_address"

var (
	errTokenFormat     = errors.New("invalid token format")
	errAddressFormat   = errors.New("invalid address format")
	errTimestamp       = errors.New("timestamp out of valid range")
	errNonceReplayed   = errors.New("nonce already used")
	errSignatureFormat = errors.New("invalid signature encoding")
	errSignerMismatch  = errors.New("signature address mismatch")
)

// AuthMiddleware verifies wallet-signed bearer tokens of the form
// "signature:nonce:timestamp:address"
type AuthMiddleware struct {
	nonceMu sync.Mutex
	// nonce -> moment its token stops being accepted
	nonceStore map[string]time.Time
	maxAge     time.Duration
	maxSkew    time.Duration
	now        func() time.Time
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware() *AuthMiddleware {
	return &AuthMiddleware{
		nonceStore: make(map[string]time.Time),
		maxAge:     5 * time.Minute,
		maxSkew:    time.Minute,
		now:        time.Now,
	}
}

// Message returns the text a wallet signs for the given nonce and timestamp
func Message(nonce string, timestamp int64) string {
	return fmt.Sprintf("NebulaLend Auth:%s:%d", nonce, timestamp)
}

// NonceResponse is what a client signs to authenticate
type NonceResponse struct {
	Nonce     string `json:"nonce"`
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
}

// IssueNonce handles GET /auth/nonce
func (am *AuthMiddleware) IssueNonce(c *gin.Context) {
	nonce := uuid.NewString()
	timestamp := am.now().Unix()
	c.JSON(http.StatusOK, NonceResponse{
		Nonce:     nonce,
		Timestamp: timestamp,
		Message:   Message(nonce, timestamp),
	})
}

// RequireAuth middleware that requires authentication
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header required",
				"code":  "AUTH_HEADER_MISSING",
			})
			c.Abort()
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid authorization format",
				"code":  "INVALID_AUTH_FORMAT",
			})
			c.Abort()
			return
		}

		address, err := am.verifySignatureToken(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			logrus.WithError(err).Warn("Authentication failed")
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication failed",
				"code":  "AUTH_FAILED",
			})
			c.Abort()
			return
		}

		c.Set(ContextAddressKey, address)
		c.Next()
	}
}

// verifySignatureToken returns the checksummed signer address
func (am *AuthMiddleware) verifySignatureToken(token string) (string, error) {
	parts := strings.Split(token, ":")
	if len(parts) != 4 {
		return "", errTokenFormat
	}
	signature, nonce, timestampStr, address := parts[0], parts[1], parts[2], parts[3]

	if nonce == "" {
		return "", errTokenFormat
	}
	if !common.IsHexAddress(address) {
		return "", errAddressFormat
	}

	timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid timestamp: %w", err)
	}
	now := am.now()
	signedAt := time.Unix(timestamp, 0)
	if now.Sub(signedAt) > am.maxAge || signedAt.Sub(now) > am.maxSkew {
		return "", errTimestamp
	}

	if err := verifyEthereumSignature(Message(nonce, timestamp), signature, address); err != nil {
		return "", fmt.Errorf("signature verification failed: %w", err)
	}

	if err := am.useNonce(nonce, now, signedAt.Add(am.maxAge)); err != nil {
		return "", err
	}
	return common.HexToAddress(address).Hex(), nil
}

// useNonce records a nonce until validUntil, the last moment a token
// carrying it passes the timestamp check, and drops expired entries
func (am *AuthMiddleware) useNonce(nonce string, now, validUntil time.Time) error {
	am.nonceMu.Lock()
	defer am.nonceMu.Unlock()

	for n, expiry := range am.nonceStore {
		if now.After(expiry) {
			delete(am.nonceStore, n)
		}
	}
	if _, used := am.nonceStore[nonce]; used {
		return errNonceReplayed
	}
	am.nonceStore[nonce] = validUntil
	return nil
}

// verifyEthereumSignature checks a personal_sign signature over message
func verifyEthereumSignature(message, signature, expectedAddress string) error {
	sigBytes, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return errSignatureFormat
	}
	if len(sigBytes) != crypto.SignatureLength {
		return fmt.Errorf("invalid signature length %d", len(sigBytes))
	}
	// wallets emit v as 27/28
	if sigBytes[crypto.RecoveryIDOffset] >= 27 {
		sigBytes[crypto.RecoveryIDOffset] -= 27
	}

	prefixedMessage := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	hash := crypto.Keccak256Hash([]byte(prefixedMessage))

	pubKey, err := crypto.SigToPub(hash.Bytes(), sigBytes)
	if err != nil {
		return fmt.Errorf("failed to recover public key: %w", err)
	}

	if crypto.PubkeyToAddress(*pubKey) != common.HexToAddress(expectedAddress) {
		return errSignerMismatch
	}
	return nil
}

// SecurityHeaders middleware adds security headers
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		c.Header("Content-Security-Policy", "default-src 'self'")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// SecureCORS allows only the listed origins
func SecureCORS(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimSpace(o)] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if _, ok := allowed[origin]; ok && origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RegisterRoutes registers the nonce route
func (am *AuthMiddleware) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/auth/nonce", am.IssueNonce)
}
