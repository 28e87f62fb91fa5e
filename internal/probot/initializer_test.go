package probot_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/probot-gw/internal/credentials"
	"github.com/mattjoyce/probot-gw/internal/credentials/mocks"
	"github.com/mattjoyce/probot-gw/internal/probot"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func creds() *credentials.Credentials {
	return &credentials.Credentials{AppID: "42", WebhookSecret: []byte("secret"), PrivateKey: []byte("key")}
}

func TestInitializer_Idempotent(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	provider := mocks.NewMockProvider(ctrl)
	provider.EXPECT().Provide(gomock.Any()).Return(creds(), nil).Times(1)

	loads := 0
	app := probot.Direct(func(*probot.Application) error {
		loads++
		return nil
	})
	initr := probot.NewInitializer(provider, app, nil, quietLogger())
	assert.False(t, initr.Ready())

	first, err := initr.Ensure(context.Background())
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		p, err := initr.Ensure(context.Background())
		require.NoError(t, err)
		assert.Same(t, first, p)
	}

	assert.True(t, initr.Ready())
	assert.Equal(t, int64(1), initr.Builds())
	assert.Equal(t, 1, loads)
	assert.Equal(t, []byte("secret"), first.Secret())
}

func TestInitializer_NilLogger(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	provider := mocks.NewMockProvider(ctrl)
	provider.EXPECT().Provide(gomock.Any()).Return(creds(), nil).Times(1)

	initr := probot.NewInitializer(provider, probot.Direct(func(app *probot.Application) error {
		app.Log().Debug("loaded")
		return nil
	}), nil, nil)

	var p *probot.Probot
	require.NotPanics(t, func() {
		var err error
		p, err = initr.Ensure(context.Background())
		require.NoError(t, err)
	})
	require.NotNil(t, p)
	assert.NoError(t, p.Receive(context.Background(), probot.Event{Name: "push", ID: "d-1"}))
}

func TestInitializer_ConcurrentColdStart(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	provider := mocks.NewMockProvider(ctrl)
	provider.EXPECT().Provide(gomock.Any()).Return(creds(), nil).Times(1)

	initr := probot.NewInitializer(provider, probot.Named("log"), probot.NewRegistry(), quietLogger())

	const n = 32
	results := make([]*probot.Probot, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := initr.Ensure(context.Background())
			assert.NoError(t, err)
			results[i] = p
		}()
	}
	wg.Wait()

	for _, p := range results {
		assert.Same(t, results[0], p)
	}
	assert.Equal(t, int64(1), initr.Builds())
}

func TestInitializer_FailureNotCached(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	outage := errors.New("kms outage")
	provider := mocks.NewMockProvider(ctrl)
	gomock.InOrder(
		provider.EXPECT().Provide(gomock.Any()).Return(nil, outage),
		provider.EXPECT().Provide(gomock.Any()).Return(creds(), nil),
	)

	initr := probot.NewInitializer(provider, probot.Named("log"), probot.NewRegistry(), quietLogger())

	_, err := initr.Ensure(context.Background())
	assert.ErrorIs(t, err, outage)
	assert.False(t, initr.Ready())

	p, err := initr.Ensure(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, p)
	assert.True(t, initr.Ready())
}

func TestInitializer_UnknownApp(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	provider := mocks.NewMockProvider(ctrl)
	provider.EXPECT().Provide(gomock.Any()).Return(creds(), nil)

	initr := probot.NewInitializer(provider, probot.Named("nope"), probot.NewRegistry(), quietLogger())
	_, err := initr.Ensure(context.Background())
	assert.ErrorIs(t, err, probot.ErrUnknownApp)
	assert.False(t, initr.Ready())
}

func TestInitializer_AppLoadFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	provider := mocks.NewMockProvider(ctrl)
	provider.EXPECT().Provide(gomock.Any()).Return(creds(), nil)

	bad := errors.New("bad app")
	initr := probot.NewInitializer(provider, probot.Direct(func(*probot.Application) error { return bad }), nil, quietLogger())
	_, err := initr.Ensure(context.Background())
	assert.ErrorIs(t, err, bad)
	assert.False(t, initr.Ready())
}
