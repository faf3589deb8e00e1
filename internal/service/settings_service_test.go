package service

import (
	"context"
	"errors"
	"testing"

	"merchant-wallet-ledger/internal/core/domain"
	"merchant-wallet-ledger/internal/core/ports/mocks"
	"merchant-wallet-ledger/pkg/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type settingsFixture struct {
	repo     *mocks.MockSettingsRepository
	counters *mocks.MockAddressCounterRepository
	svc      *SettingsServiceImpl
}

func newSettingsFixture(t *testing.T) *settingsFixture {
	ctrl := gomock.NewController(t)
	f := &settingsFixture{
		repo:     mocks.NewMockSettingsRepository(ctrl),
		counters: mocks.NewMockAddressCounterRepository(ctrl),
	}
	f.svc = NewSettingsService(f.repo, f.counters, newTestEncryption(t), NewHDAddressDeriver(), 3, newTestLogger())
	return f
}

func TestSettingsService_ConfirmationThreshold(t *testing.T) {
	tests := []struct {
		name  string
		value string
		ok    bool
		want  int64
	}{
		{"missing uses default", "", false, 3},
		{"stored value", "6", true, 6},
		{"garbage uses default", "six", true, 3},
		{"zero uses default", "0", true, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSettingsFixture(t)
			f.repo.EXPECT().Get(gomock.Any(), domain.SettingConfirmationThreshold).Return(tt.value, tt.ok, nil)

			got, err := f.svc.ConfirmationThreshold(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSettingsService_ConfirmationThreshold_StoreError(t *testing.T) {
	f := newSettingsFixture(t)
	f.repo.EXPECT().Get(gomock.Any(), gomock.Any()).Return("", false, errors.New("db down"))

	_, err := f.svc.ConfirmationThreshold(context.Background())
	assert.True(t, apperror.HasCode(err, "SYS_001"))
}

func TestSettingsService_SetConfirmationThreshold(t *testing.T) {
	f := newSettingsFixture(t)
	f.repo.EXPECT().Set(gomock.Any(), domain.SettingConfirmationThreshold, "6").Return(nil)

	require.NoError(t, f.svc.SetConfirmationThreshold(context.Background(), 6))
	assert.True(t, apperror.HasCode(f.svc.SetConfirmationThreshold(context.Background(), 0), "VAL_001"))
}

func TestSettingsService_ExtendedKeyRoundTrip(t *testing.T) {
	f := newSettingsFixture(t)
	var stored string

	f.repo.EXPECT().Set(gomock.Any(), domain.ExtendedKeySetting(domain.PurposeTopup), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, v string) error {
			stored = v
			return nil
		})
	f.counters.EXPECT().Initialize(gomock.Any(), domain.PurposeTopup, uint32(0)).Return(true, nil)

	require.NoError(t, f.svc.SetExtendedKey(context.Background(), domain.PurposeTopup, testZpub))
	assert.NotContains(t, stored, "zpub")

	f.repo.EXPECT().Get(gomock.Any(), domain.ExtendedKeySetting(domain.PurposeTopup)).Return(stored, true, nil)
	key, err := f.svc.ExtendedKey(context.Background(), domain.PurposeTopup)
	require.NoError(t, err)
	assert.Equal(t, testZpub, key)
}

func TestSettingsService_SetExtendedKey_RejectsInvalid(t *testing.T) {
	f := newSettingsFixture(t)

	err := f.svc.SetExtendedKey(context.Background(), domain.PurposeTopup, "xprv-not-really")
	assert.True(t, apperror.HasCode(err, "KEY_001"))
}

func TestSettingsService_ExtendedKey_NotConfigured(t *testing.T) {
	f := newSettingsFixture(t)
	f.repo.EXPECT().Get(gomock.Any(), gomock.Any()).Return("", false, nil)

	_, err := f.svc.ExtendedKey(context.Background(), domain.PurposeTopup)
	assert.True(t, apperror.HasCode(err, "ADDR_001"))
}

func TestSettingsService_ExtendedKey_TamperedCiphertext(t *testing.T) {
	f := newSettingsFixture(t)
	f.repo.EXPECT().Get(gomock.Any(), gomock.Any()).Return("deadbeef", true, nil)

	_, err := f.svc.ExtendedKey(context.Background(), domain.PurposeTopup)
	assert.True(t, apperror.HasCode(err, "SYS_003"))
}
