package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EvanCNavarro/disc-sub000/model"
)

// --- fakes ---

type fakeAccountRepo struct {
	account   *model.PlatformAccount
	getErr    error
	updated   [][]byte
	updateErr error
}

func (f *fakeAccountRepo) Get(userID int64) (*model.PlatformAccount, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.account, nil
}

func (f *fakeAccountRepo) Upsert(a *model.PlatformAccount) error { return nil }

func (f *fakeAccountRepo) UpdateRefreshToken(userID int64, sealed []byte) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updated = append(f.updated, sealed)
	return nil
}

type fakeExchanger struct {
	resp       *TokenResponse
	err        error
	gotRefresh []string
}

func (f *fakeExchanger) ExchangeRefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	f.gotRefresh = append(f.gotRefresh, refreshToken)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type managerEnv struct {
	manager   *Manager
	accounts  *fakeAccountRepo
	exchanger *fakeExchanger
	sealer    *Sealer
}

// newManagerEnv wires a manager around a linked account whose stored refresh
// token decrypts to "refresh-original". Redis is absent in tests, so every
// call takes the full refresh path.
func newManagerEnv(t *testing.T) *managerEnv {
	t.Helper()

	sealer, err := NewSealer(testKeyHex)
	require.NoError(t, err)
	sealed, err := sealer.Seal("refresh-original")
	require.NoError(t, err)

	accounts := &fakeAccountRepo{account: &model.PlatformAccount{
		UserID:          7,
		PlatformUserID:  "spotify-user-7",
		RefreshTokenEnc: sealed,
	}}
	exchanger := &fakeExchanger{resp: &TokenResponse{
		AccessToken: "access-1",
		ExpiresIn:   3600,
	}}

	return &managerEnv{
		manager:   NewManager(accounts, sealer, exchanger),
		accounts:  accounts,
		exchanger: exchanger,
		sealer:    sealer,
	}
}

// --- AccessToken ---

func TestAccessTokenRefreshesThroughPlatform(t *testing.T) {
	env := newManagerEnv(t)

	token, err := env.manager.AccessToken(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)

	require.Len(t, env.exchanger.gotRefresh, 1)
	assert.Equal(t, "refresh-original", env.exchanger.gotRefresh[0])
	// 平台没轮换刷新令牌，就不该有任何写库
	assert.Empty(t, env.accounts.updated)
}

func TestAccessTokenPersistsRotatedRefreshToken(t *testing.T) {
	env := newManagerEnv(t)
	env.exchanger.resp.RefreshToken = "refresh-rotated"

	token, err := env.manager.AccessToken(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)

	require.Len(t, env.accounts.updated, 1)
	opened, err := env.sealer.Open(env.accounts.updated[0])
	require.NoError(t, err)
	assert.Equal(t, "refresh-rotated", opened)
}

func TestAccessTokenFailsWhenRotationCannotBePersisted(t *testing.T) {
	env := newManagerEnv(t)
	env.exchanger.resp.RefreshToken = "refresh-rotated"
	env.accounts.updateErr = errors.New("db down")

	// 轮换没落库就把访问令牌交出去，进程一崩账号就废了。
	// 所以这里必须整体失败。
	_, err := env.manager.AccessToken(context.Background(), 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to persist rotated refresh token")
}

func TestAccessTokenSkipsRewriteOfUnchangedToken(t *testing.T) {
	env := newManagerEnv(t)
	env.exchanger.resp.RefreshToken = "refresh-original"

	_, err := env.manager.AccessToken(context.Background(), 7)
	require.NoError(t, err)
	assert.Empty(t, env.accounts.updated)
}

func TestAccessTokenNoLinkedAccount(t *testing.T) {
	env := newManagerEnv(t)
	env.accounts.account = nil

	_, err := env.manager.AccessToken(context.Background(), 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no linked platform account")
	assert.Empty(t, env.exchanger.gotRefresh)
}

func TestAccessTokenSurfacesExchangeFailure(t *testing.T) {
	env := newManagerEnv(t)
	env.exchanger.err = errors.New("invalid_grant")

	_, err := env.manager.AccessToken(context.Background(), 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refresh grant failed")
}

func TestAccessTokenRejectsCorruptStoredToken(t *testing.T) {
	env := newManagerEnv(t)
	env.accounts.account.RefreshTokenEnc = []byte("definitely not ciphertext")

	_, err := env.manager.AccessToken(context.Background(), 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unseal refresh token")
	assert.Empty(t, env.exchanger.gotRefresh)
}
