package biz

import (
	"context"
	"errors"
	"testing"
	"time"

	"OrderRelay/internal/conf"
	"OrderRelay/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialCache_ReadThrough(t *testing.T) {
	provider := new(MockCredentialProvider)
	cc := NewCredentialCache(&conf.Cache{CredentialTTL: time.Minute, MerchantTTL: time.Minute, MaxEntries: 10}, provider, log.DefaultLogger)
	ctx := context.Background()

	provider.On("GetCredential", ctx, "s1").Return(&model.Credential{AccessToken: "tok"}, nil).Once()
	provider.On("GetMerchantIDs", ctx, "s1").Return([]string{"m1", "m2"}, nil).Once()

	for i := 0; i < 3; i++ {
		cred, err := cc.GetCredential(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "tok", cred.AccessToken)

		ids, err := cc.GetMerchantIDs(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, []string{"m1", "m2"}, ids)
	}

	stats := cc.Stats()
	assert.Equal(t, int64(4), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
	provider.AssertExpectations(t)
}

func TestCredentialCache_TTLExpiry(t *testing.T) {
	provider := new(MockCredentialProvider)
	cc := NewCredentialCache(&conf.Cache{CredentialTTL: 20 * time.Millisecond, MerchantTTL: time.Minute}, provider, log.DefaultLogger)
	ctx := context.Background()

	provider.On("GetCredential", ctx, "s1").Return(&model.Credential{AccessToken: "tok"}, nil).Twice()

	_, err := cc.GetCredential(ctx, "s1")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	_, err = cc.GetCredential(ctx, "s1")
	require.NoError(t, err)
	provider.AssertNumberOfCalls(t, "GetCredential", 2)
}

func TestCredentialCache_InvalidateAndErrors(t *testing.T) {
	provider := new(MockCredentialProvider)
	cc := NewCredentialCache(nil, provider, log.DefaultLogger)
	ctx := context.Background()

	provider.On("GetCredential", ctx, "s1").Return(&model.Credential{AccessToken: "tok"}, nil)
	provider.On("GetCredential", ctx, "s2").Return(&model.Credential{}, nil)
	provider.On("GetCredential", ctx, "s3").Return(nil, errors.New("db down"))

	_, err := cc.GetCredential(ctx, "s1")
	require.NoError(t, err)
	cc.Invalidate("s1")
	_, err = cc.GetCredential(ctx, "s1")
	require.NoError(t, err)
	provider.AssertNumberOfCalls(t, "GetCredential", 2)

	_, err = cc.GetCredential(ctx, "s2")
	assert.ErrorIs(t, err, ErrNoCredential)

	_, err = cc.GetCredential(ctx, "s3")
	assert.EqualError(t, err, "db down")
	assert.Equal(t, 1, cc.Stats().Tokens)
}
