package service_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/promptmart/internal/clock"
	"github.com/smallbiznis/promptmart/internal/listing/domain"
	"github.com/smallbiznis/promptmart/internal/listing/repository"
	"github.com/smallbiznis/promptmart/internal/listing/service"
	"github.com/smallbiznis/promptmart/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newListingService(t *testing.T) (domain.Service, *snowflake.Node) {
	t.Helper()
	conn := dbtest.Open(t, &domain.Listing{})
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	return service.New(service.Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
		Clock: clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
	}), node
}

func ptr(v int64) *int64 { return &v }

func TestCreateListingValidatesPricing(t *testing.T) {
	svc, node := newListingService(t)
	ctx := context.Background()
	seller := node.Generate()

	cases := []domain.CreateListingRequest{
		{SellerID: seller, Title: "x", Content: "y"},
		{SellerID: seller, Title: "x", Content: "y", AcceptsMoney: true},
		{SellerID: seller, Title: "x", Content: "y", AcceptsCredits: true, CreditPrice: ptr(0)},
	}
	for _, req := range cases {
		_, err := svc.Create(ctx, req)
		assert.ErrorIs(t, err, domain.ErrInvalidPrice)
	}

	_, err := svc.Create(ctx, domain.CreateListingRequest{SellerID: seller, Title: "x", Content: "y", AcceptsCredits: true, CreditPrice: ptr(5), PreviewPercentage: 101})
	assert.ErrorIs(t, err, domain.ErrInvalidPreview)
}

func TestCreateGetArchive(t *testing.T) {
	svc, node := newListingService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, domain.CreateListingRequest{
		SellerID:          node.Generate(),
		Title:             "Cinematic Portrait Prompt",
		Content:           "a portrait in golden hour light",
		PriceCents:        ptr(1000),
		CreditPrice:       ptr(500),
		AcceptsMoney:      true,
		PreviewPercentage: 25,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(created.Slug, "cinematic-portrait-prompt-"))
	assert.Nil(t, created.CreditPrice)

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	price, ok := got.PriceFor(domain.PaymentMethodMoney)
	assert.True(t, ok)
	assert.Equal(t, int64(1000), price)
	_, ok = got.PriceFor(domain.PaymentMethodCredits)
	assert.False(t, ok)
	assert.True(t, got.Active())

	archived, err := svc.Archive(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusArchived, archived.Status)

	_, err = svc.Get(ctx, node.Generate())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPreviewContent(t *testing.T) {
	svc, _ := newListingService(t)
	listing := &domain.Listing{Content: "abcdefghij", PreviewPercentage: 30}

	assert.Equal(t, "abc", svc.PreviewContent(listing, false))
	assert.Equal(t, "abcdefghij", svc.PreviewContent(listing, true))

	listing.PreviewPercentage = 0
	assert.Empty(t, svc.PreviewContent(listing, false))
}
