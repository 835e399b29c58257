// internal/services/auth_service.go
package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/raulk/clock"
	"gorm.io/gorm"

	"github.com/javajoker/datamarket-backend/internal/chain"
	"github.com/javajoker/datamarket-backend/internal/config"
	"github.com/javajoker/datamarket-backend/internal/models"
	"github.com/javajoker/datamarket-backend/internal/utils"
)

const ActionLogin = "login"

type AuthService struct {
	db          *gorm.DB
	cfg         *config.Config
	userService *UserService
	clock       clock.Clock
}

type LoginRequest struct {
	Address   string `json:"address" validate:"required,wallet_address"`
	Action    string `json:"action,omitempty"`
	Timestamp int64  `json:"timestamp" validate:"required"`
	Signature string `json:"signature" validate:"required"`
	ChainID   int64  `json:"chain_id" validate:"required"`
}

type AuthResponse struct {
	User         *models.User `json:"user"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int          `json:"expires_in"` // in seconds
}

type AuthMessageResponse struct {
	Message   string `json:"message"`
	Address   string `json:"address"`
	Action    string `json:"action"`
	Timestamp int64  `json:"timestamp"`
	ChainID   int64  `json:"chain_id"`
}

func NewAuthService(db *gorm.DB, cfg *config.Config, userService *UserService, clk clock.Clock) *AuthService {
	if clk == nil {
		clk = clock.New()
	}
	return &AuthService{
		db:          db,
		cfg:         cfg,
		userService: userService,
		clock:       clk,
	}
}

// AuthMessage is the text a wallet signs to prove control of address for
// one action.
func AuthMessage(app, address, action string, timestamp int64) string {
	return fmt.Sprintf("%s authentication\nAddress: %s\nAction: %s\nTimestamp: %d", app, address, action, timestamp)
}

// RequestAction is the action signed for a state-changing HTTP request.
func RequestAction(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

// RecoverAddress returns the signer of an EIP-191 personal message.
func RecoverAddress(message, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("malformed signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	// wallets report V as 27/28
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySignature checks that address signed message.
func VerifySignature(address, message, signature string) error {
	signer, err := RecoverAddress(message, signature)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if signer != common.HexToAddress(address) {
		return fmt.Errorf("signature was not made by %s: %w", address, ErrUnauthorized)
	}
	return nil
}

// Message returns the message a client should sign now.
func (s *AuthService) Message(address, action string) (*AuthMessageResponse, error) {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	if action == "" {
		action = ActionLogin
	}

	ts := s.clock.Now().Unix()
	return &AuthMessageResponse{
		Message:   AuthMessage(s.cfg.Auth.AppName, addr, action, ts),
		Address:   addr,
		Action:    action,
		Timestamp: ts,
		ChainID:   s.cfg.Chain.ChainID,
	}, nil
}

func (s *AuthService) Login(req *LoginRequest) (*AuthResponse, error) {
	// Validate request
	if err := utils.ValidateStruct(req); err != nil {
		return nil, validationError(err)
	}

	state := chain.WalletStateOf(req.Address, req.ChainID, s.cfg.Chain.ChainID)
	if _, err := chain.RequireConnected(state, s.cfg.Chain.ChainID); err != nil {
		return nil, validationError(err)
	}

	action := req.Action
	if action == "" {
		action = ActionLogin
	}
	if action != ActionLogin {
		return nil, fmt.Errorf("%w: action must be %q", ErrValidation, ActionLogin)
	}

	if err := s.verify(req.Address, req.Signature, action, req.Timestamp); err != nil {
		return nil, err
	}

	user, _, err := s.userService.GetOrCreateByWallet(req.Address)
	if err != nil {
		return nil, err
	}

	// Update last login time
	if err := s.userService.TouchLogin(user.ID); err != nil {
		return nil, fmt.Errorf("failed to record login: %w", err)
	}

	return s.issueTokens(user)
}

func (s *AuthService) RefreshToken(refreshToken string) (*AuthResponse, error) {
	// Validate refresh token
	userIDStr, err := utils.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh token: %w", ErrUnauthorized)
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return nil, fmt.Errorf("invalid user ID in token: %w", ErrUnauthorized)
	}

	user, err := s.userService.GetUserByID(userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("user no longer exists: %w", ErrUnauthorized)
		}
		return nil, err
	}

	return s.issueTokens(user)
}

// VerifyRequest authenticates a request signed with the wallet headers and
// returns its user, creating it on first use.
func (s *AuthService) VerifyRequest(address, signature string, timestamp int64, method, path string) (*models.User, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid wallet address: %w", ErrUnauthorized)
	}
	if err := s.verify(address, signature, RequestAction(method, path), timestamp); err != nil {
		return nil, err
	}

	user, _, err := s.userService.GetOrCreateByWallet(address)
	return user, err
}

func (s *AuthService) GetUserByID(userID uuid.UUID) (*models.User, error) {
	return s.userService.GetUserByID(userID)
}

func (s *AuthService) verify(address, signature, action string, timestamp int64) error {
	signedAt := time.Unix(timestamp, 0)
	if age := s.clock.Now().Sub(signedAt); age > s.cfg.Auth.SignatureWindow || age < -s.cfg.Auth.SignatureWindow {
		return fmt.Errorf("signature timestamp outside the %s window: %w", s.cfg.Auth.SignatureWindow, ErrUnauthorized)
	}

	// the client signs the checksummed address
	addr, err := NormalizeAddress(address)
	if err != nil {
		return err
	}
	return VerifySignature(addr, AuthMessage(s.cfg.Auth.AppName, addr, action, timestamp), signature)
}

func (s *AuthService) issueTokens(user *models.User) (*AuthResponse, error) {
	// Generate tokens
	accessToken, err := utils.GenerateJWT(user.ID, user.WalletAddress, s.cfg.JWT.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshToken, err := utils.GenerateRefreshToken(user.ID, s.cfg.JWT.RefreshTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	return &AuthResponse{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    s.cfg.JWT.AccessTokenTTL * 3600, // Convert hours to seconds
	}, nil
}
