package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestFileLogger(t *testing.T) (*FileLogger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewFileLogger(&Config{
		Enabled: true,
		Type:    FileAuditType,
		Options: map[string]interface{}{"file_path": path},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = logger.Close() })
	return logger, path
}

func TestFileLoggerWritesJSONL(t *testing.T) {
	logger, path := newTestFileLogger(t)

	require.NoError(t, logger.Log("WRITE", true, map[string]interface{}{
		"data_type": "sec_token_api",
	}))
	require.NoError(t, logger.Log("READ", false, map[string]interface{}{
		"error": "DECRYPTION_FAILED",
	}))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var event Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &event))
		events = append(events, event)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, events, 2)
	require.Equal(t, "WRITE", events[0].Action)
	require.True(t, events[0].Success)
	require.Equal(t, "sec_token_api", events[0].DataType)
	require.NotEmpty(t, events[0].ID)
	require.False(t, events[0].Timestamp.IsZero())

	require.Equal(t, "READ", events[1].Action)
	require.False(t, events[1].Success)
	require.Equal(t, "DECRYPTION_FAILED", events[1].Error)
}

func TestFileLoggerQuery(t *testing.T) {
	logger, _ := newTestFileLogger(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, logger.Log("WRITE", true, nil))
	}
	require.NoError(t, logger.Log("READ", false, map[string]interface{}{"error": "STORE_ERROR"}))

	t.Run("ByAction", func(t *testing.T) {
		result, err := logger.Query(QueryOptions{Action: "WRITE"})
		require.NoError(t, err)
		require.Equal(t, 5, result.Filtered)
	})

	t.Run("FailuresOnly", func(t *testing.T) {
		success := false
		result, err := logger.Query(QueryOptions{Success: &success})
		require.NoError(t, err)
		require.Len(t, result.Events, 1)
		require.Equal(t, "READ", result.Events[0].Action)
	})

	t.Run("Pagination", func(t *testing.T) {
		result, err := logger.Query(QueryOptions{Limit: 2})
		require.NoError(t, err)
		require.Len(t, result.Events, 2)
		require.True(t, result.HasMore)

		rest, err := logger.Query(QueryOptions{Limit: 10, Offset: 2})
		require.NoError(t, err)
		require.Len(t, rest.Events, 4)
		require.False(t, rest.HasMore)
	})

	t.Run("SinceFilter", func(t *testing.T) {
		future := time.Now().Add(time.Hour)
		result, err := logger.Query(QueryOptions{Since: &future})
		require.NoError(t, err)
		require.Empty(t, result.Events)
	})
}

func TestFileLoggerSkipsCorruptLines(t *testing.T) {
	logger, path := newTestFileLogger(t)

	require.NoError(t, logger.Log("WRITE", true, nil))
	require.NoError(t, logger.Close())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString("{truncated garbage\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := NewFileLogger(&Config{
		Enabled: true,
		Type:    FileAuditType,
		Options: map[string]interface{}{"file_path": path},
	})
	require.NoError(t, err)
	defer reopened.Close()

	result, err := reopened.Query(QueryOptions{})
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
}

func TestFileLoggerRequiresPath(t *testing.T) {
	_, err := NewFileLogger(&Config{Enabled: true, Type: FileAuditType})
	require.Error(t, err)
}

func TestNewLoggerFactory(t *testing.T) {
	t.Run("DisabledReturnsNoOp", func(t *testing.T) {
		logger, err := NewLogger(&Config{Enabled: false})
		require.NoError(t, err)
		require.IsType(t, &NoOpLogger{}, logger)
	})

	t.Run("NilConfigReturnsNoOp", func(t *testing.T) {
		logger, err := NewLogger(nil)
		require.NoError(t, err)
		require.IsType(t, &NoOpLogger{}, logger)
	})

	t.Run("UnknownProvider", func(t *testing.T) {
		_, err := NewLogger(&Config{Enabled: true, Type: ConfigType("syslog")})
		require.Error(t, err)
	})
}
