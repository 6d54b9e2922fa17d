package credential

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "smtp-a@x.com", SMTPKey("a@x.com"))
	assert.Equal(t, "imap-a@x.com", IMAPKey("a@x.com"))
}

func TestPasswordPrefersEnv(t *testing.T) {
	t.Setenv("SMTPQ_TEST_PASSWORD", "from-env")
	pass, err := Password("SMTPQ_TEST_PASSWORD", SMTPKey("nobody"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", pass)
}

func TestFileKeyringRoundTrip(t *testing.T) {
	t.Setenv(dirEnv, t.TempDir())
	key := SMTPKey("a@x.com")

	_, err := Get(key)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, Set(key, "s3cret"))
	got, err := Get(key)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got)

	pass, err := Password("SMTPQ_TEST_UNSET_PASSWORD", key)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", pass)

	require.NoError(t, Delete(key))
	_, err = Get(key)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, Delete(key), ErrNotFound)
}

func TestPasswordMissingIsEmpty(t *testing.T) {
	t.Setenv(dirEnv, t.TempDir())
	pass, err := Password("SMTPQ_TEST_UNSET_PASSWORD", IMAPKey("nobody"))
	require.NoError(t, err)
	assert.Empty(t, pass)
}
