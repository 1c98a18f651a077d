package db

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrationFilesAreOrdered(t *testing.T) {
	files, err := migrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, files)
	require.Equal(t, "0001_init.sql", files[0])
	require.IsIncreasing(t, files)
}
