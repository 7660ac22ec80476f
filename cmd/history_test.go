package cmd

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/moodlens/api/schemas"
	"github.com/xkilldash9x/moodlens/internal/config"
	"github.com/xkilldash9x/moodlens/internal/mocks"
)

func stubStore(s schemas.ResultStore, err error) {
	openStore = func(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (schemas.ResultStore, error) {
		return s, err
	}
}

func TestHistoryCommand_Table(t *testing.T) {
	setupTest(t)

	older := *sampleResult()
	newer := *sampleResult()
	newer.PrimaryEmotion = "calm"
	newer.Timestamp = older.Timestamp + 5000

	store := new(mocks.MockResultStore)
	store.On("RecentResults", mock.Anything, 5).Return([]schemas.ExpressionResult{newer, older}, nil).Once()
	store.On("Close").Return(nil).Once()
	stubStore(store, nil)

	out, err := executeCommand(t, context.Background(), "history", "--limit", "5")
	require.NoError(t, err)
	store.AssertExpectations(t)

	assert.Contains(t, out, "PRIMARY")
	assert.Contains(t, out, "raised cheeks, crow's feet")
	assert.Less(t, strings.Index(out, "calm"), strings.Index(out, "joy"), "newest record comes first")
}

func TestHistoryCommand_Empty(t *testing.T) {
	dir := setupTest(t)
	t.Setenv("MOODLENS_DATABASE_DRIVER", "sqlite")
	t.Setenv("MOODLENS_DATABASE_SQLITE_PATH", filepath.Join(dir, "empty.db"))

	out, err := executeCommand(t, context.Background(), "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No analyses recorded yet.")
}

func TestHistoryCommand_Errors(t *testing.T) {
	t.Run("no store configured", func(t *testing.T) {
		setupTest(t)
		_, err := executeCommand(t, context.Background(), "history")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no result store configured")
	})

	t.Run("store cannot be opened", func(t *testing.T) {
		setupTest(t)
		stubStore(nil, errors.New("connection refused"))
		_, err := executeCommand(t, context.Background(), "history")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to open result store")
	})

	t.Run("query fails", func(t *testing.T) {
		setupTest(t)
		store := new(mocks.MockResultStore)
		store.On("RecentResults", mock.Anything, 20).Return(nil, errors.New("table missing")).Once()
		store.On("Close").Return(nil).Once()
		stubStore(store, nil)

		_, err := executeCommand(t, context.Background(), "history")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "table missing")
		store.AssertExpectations(t)
	})

	t.Run("invalid limit", func(t *testing.T) {
		setupTest(t)
		_, err := executeCommand(t, context.Background(), "history", "--limit", "-3")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--limit must be a positive integer")
	})
}
