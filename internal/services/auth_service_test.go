// internal/services/auth_service_test.go
package services

import (
	"crypto/ecdsa"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/datamarket-backend/internal/utils"
)

// signPersonal signs message the way a browser wallet does, with V as 27/28.
func signPersonal(key *ecdsa.PrivateKey, message string) string {
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		panic(err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}

func (suite *ServiceTestSuite) loginRequest(key *ecdsa.PrivateKey, ts int64) *LoginRequest {
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()
	return &LoginRequest{
		Address:   address,
		Action:    ActionLogin,
		Timestamp: ts,
		Signature: signPersonal(key, AuthMessage("DataMarket", address, ActionLogin, ts)),
		ChainID:   80002,
	}
}

func (suite *ServiceTestSuite) TestSignatureRoundTrip() {
	key, err := crypto.GenerateKey()
	require.NoError(suite.T(), err)
	address := crypto.PubkeyToAddress(key.PublicKey)

	msg := AuthMessage("DataMarket", address.Hex(), "login", 1700000000)
	assert.Equal(suite.T(), "DataMarket authentication\nAddress: "+address.Hex()+"\nAction: login\nTimestamp: 1700000000", msg)

	sig := signPersonal(key, msg)
	recovered, err := RecoverAddress(msg, sig)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), address, recovered)

	assert.NoError(suite.T(), VerifySignature(address.Hex(), msg, sig))
	assert.ErrorIs(suite.T(), VerifySignature(address.Hex(), msg+"!", sig), ErrUnauthorized)
	assert.ErrorIs(suite.T(), VerifySignature(address.Hex(), msg, "0xdeadbeef"), ErrUnauthorized)
}

func (suite *ServiceTestSuite) TestLoginCreatesUserOnce() {
	key, err := crypto.GenerateKey()
	require.NoError(suite.T(), err)
	utils.SetJWTSecret(suite.cfg.JWT.SecretKey)

	resp, err := suite.auth.Login(suite.loginRequest(key, suite.clock.Now().Unix()))
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "Bearer", resp.TokenType)
	assert.Equal(suite.T(), crypto.PubkeyToAddress(key.PublicKey).Hex(), resp.User.WalletAddress)

	claims, err := utils.ValidateJWT(resp.AccessToken)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), resp.User.ID.String(), claims.UserID)
	assert.Equal(suite.T(), resp.User.WalletAddress, claims.WalletAddress)

	suite.clock.Add(time.Minute)
	again, err := suite.auth.Login(suite.loginRequest(key, suite.clock.Now().Unix()))
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), resp.User.ID, again.User.ID)

	refreshed, err := suite.auth.RefreshToken(again.RefreshToken)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), resp.User.ID, refreshed.User.ID)
}

func (suite *ServiceTestSuite) TestLoginRejections() {
	key, err := crypto.GenerateKey()
	require.NoError(suite.T(), err)
	now := suite.clock.Now().Unix()

	stale := suite.loginRequest(key, now-int64((10*time.Minute).Seconds()))
	_, err = suite.auth.Login(stale)
	assert.ErrorIs(suite.T(), err, ErrUnauthorized)

	wrongChain := suite.loginRequest(key, now)
	wrongChain.ChainID = 1
	_, err = suite.auth.Login(wrongChain)
	assert.ErrorIs(suite.T(), err, ErrValidation)

	other, err := crypto.GenerateKey()
	require.NoError(suite.T(), err)
	forged := suite.loginRequest(key, now)
	forged.Signature = suite.loginRequest(other, now).Signature
	_, err = suite.auth.Login(forged)
	assert.ErrorIs(suite.T(), err, ErrUnauthorized)

	wrongAction := suite.loginRequest(key, now)
	wrongAction.Action = "withdraw"
	_, err = suite.auth.Login(wrongAction)
	assert.ErrorIs(suite.T(), err, ErrValidation)

	_, err = suite.auth.Login(&LoginRequest{Address: "0x123", Timestamp: now, Signature: "0x00", ChainID: 80002})
	assert.ErrorIs(suite.T(), err, ErrValidation)

	var count int64
	suite.db.Table("users").Count(&count)
	assert.Zero(suite.T(), count, "rejected logins create no users")
}

func (suite *ServiceTestSuite) TestVerifyRequestSignature() {
	key, err := crypto.GenerateKey()
	require.NoError(suite.T(), err)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()
	now := suite.clock.Now().Unix()

	action := RequestAction("post", "/v1/datasets")
	assert.Equal(suite.T(), "POST /v1/datasets", action)

	sig := signPersonal(key, AuthMessage("DataMarket", address, action, now))
	user, err := suite.auth.VerifyRequest(address, sig, now, "POST", "/v1/datasets")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), address, user.WalletAddress)

	_, err = suite.auth.VerifyRequest(address, sig, now, "PATCH", "/v1/datasets")
	assert.ErrorIs(suite.T(), err, ErrUnauthorized)
}

func (suite *ServiceTestSuite) TestAuthMessageForClient() {
	msg, err := suite.auth.Message("0x00000000000000000000000000000000000000aa", "")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), ActionLogin, msg.Action)
	assert.Equal(suite.T(), int64(80002), msg.ChainID)
	assert.Equal(suite.T(), AuthMessage("DataMarket", msg.Address, ActionLogin, msg.Timestamp), msg.Message)

	_, err = suite.auth.Message("nope", "")
	assert.ErrorIs(suite.T(), err, ErrValidation)
}
