// internal/services/notification_service_test.go
package services

import (
	"context"
	"net/smtp"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/datamarket-backend/internal/config"
	"github.com/javajoker/datamarket-backend/internal/models"
	"github.com/javajoker/datamarket-backend/internal/txstate"
)

type sentMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func (suite *ServiceTestSuite) notifier() (*NotificationService, chan sentMail) {
	cfg := &config.Config{Email: config.EmailConfig{
		SMTPHost:  "smtp.example.com",
		SMTPPort:  "587",
		FromEmail: "noreply@datamarket.example",
		FromName:  "DataMarket",
	}}
	sent := make(chan sentMail, 4)
	notifier := NewNotificationService(suite.db, cfg)
	notifier.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		sent <- sentMail{addr: addr, from: from, to: to, msg: string(msg)}
		return nil
	}
	return notifier, sent
}

func (suite *ServiceTestSuite) TestConfirmedPurchaseNotifiesSeller() {
	notifier, sent := suite.notifier()
	transactions := NewTransactionService(suite.db, txstate.New(2), nil, notifier, suite.clock)

	seller := suite.user(1)
	buyer := suite.user(2)
	name, contact := "Ada", "ada@example.com"
	_, err := suite.users.UpdateProfile(seller.ID, &UpdateUserProfileRequest{DisplayName: &name, Contact: &contact})
	require.NoError(suite.T(), err)
	dataset := suite.dataset(seller, "Bird Songs", "1.5", time.Hour)

	_, err = transactions.RecordGroup(context.Background(), GroupRecord{
		BuyerID:  buyer.ID,
		SellerID: seller.ID,
		Items:    []GroupItem{{DatasetID: dataset.ID, Amount: dataset.Price}},
		Hash:     hashOf(300),
		Attempts: 1,
	})
	require.NoError(suite.T(), err)

	n, err := transactions.AdvanceCall(context.Background(), hashOf(300), txstate.Included{
		BlockNumber: 3,
		ExplorerURL: "https://amoy.polygonscan.com/tx/" + hashOf(300),
	})
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), 1, n)

	select {
	case mail := <-sent:
		assert.Equal(suite.T(), "smtp.example.com:587", mail.addr)
		assert.Equal(suite.T(), "noreply@datamarket.example", mail.from)
		assert.Equal(suite.T(), []string{contact}, mail.to)
		assert.Contains(suite.T(), mail.msg, "Subject: Dataset Sold - Bird Songs")
		assert.Contains(suite.T(), mail.msg, "Hello Ada,")
		assert.Contains(suite.T(), mail.msg, `Your dataset "Bird Songs" was purchased for 1.5 tokens.`)
		assert.Contains(suite.T(), mail.msg, hashOf(300))
		assert.Contains(suite.T(), mail.msg, "DataMarket Team")
	case <-time.After(2 * time.Second):
		suite.T().Fatal("no sale notification sent")
	}
}

func (suite *ServiceTestSuite) TestSaleNotificationSkipsSilentSellers() {
	notifier, sent := suite.notifier()
	seller := suite.user(1)
	buyer := suite.user(2)
	dataset := suite.dataset(seller, "Cat Photos", "2", time.Hour)

	require.NoError(suite.T(), notifier.SendSaleNotification(&models.Transaction{
		TransactionType: models.TransactionTypePurchase,
		BuyerID:         &buyer.ID,
		SellerID:        &seller.ID,
		DatasetID:       &dataset.ID,
		Amount:          dataset.Price,
	}))
	require.NoError(suite.T(), notifier.SendSaleNotification(&models.Transaction{SellerID: &seller.ID}))

	assert.Empty(suite.T(), sent, "sellers without a contact get no mail")
}
