package domain

// Keys of the platform settings store.
const (
	SettingConfirmationThreshold = "btc_confirmation_threshold"
	settingExtendedKeyPrefix     = "btc_xpub_enc:"
)

// ExtendedKeySetting is the settings key holding the encrypted extended key of a purpose.
func ExtendedKeySetting(purpose AddressPurpose) string {
	return settingExtendedKeyPrefix + string(purpose)
}
