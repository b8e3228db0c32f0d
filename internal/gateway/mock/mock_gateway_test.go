package mock_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slievr/silverstripe-omnipay/internal/gateway"
	"github.com/slievr/silverstripe-omnipay/internal/gateway/mock"
)

func TestGateway_DefaultPurchaseSucceeds(t *testing.T) {
	g := mock.New("dummy")
	assert.Equal(t, "dummy", g.Name())

	req, err := g.Purchase(gateway.Fields{TransactionID: "PAY-1"})
	require.NoError(t, err)

	resp, err := req.Send(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Successful())
	assert.False(t, resp.Redirect())
	assert.NotEmpty(t, resp.Reference()["transactionReference"])
}

func TestGateway_DefaultCompleteEchoesReference(t *testing.T) {
	g := mock.New("dummy")
	ref := map[string]any{"token": "abc"}

	req, err := g.CompletePurchase(gateway.Fields{Reference: ref})
	require.NoError(t, err)

	resp, err := req.Send(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ref, resp.Reference())
}

func TestGateway_Scripting(t *testing.T) {
	g := mock.New("dummy")
	g.PurchaseFunc = func(fields gateway.Fields) (gateway.Request, error) {
		return mock.FailingRequest(errors.New("boom")), nil
	}

	req, err := g.Purchase(gateway.Fields{})
	require.NoError(t, err)
	_, err = req.Send(context.Background())
	assert.EqualError(t, err, "boom")
}

func TestResponse_ConfirmRecordsURL(t *testing.T) {
	resp := mock.Approved(nil)
	require.NoError(t, resp.Confirm(context.Background(), "https://shop.example/gateway/PAY-1/complete"))
	assert.Equal(t, []string{"https://shop.example/gateway/PAY-1/complete"}, resp.Confirmed)
}

func TestDeclined(t *testing.T) {
	resp := mock.Declined("51", "insufficient funds")
	assert.False(t, resp.Successful())
	assert.Equal(t, "51", resp.Code())
	assert.Equal(t, "insufficient funds", resp.Message())
}
