package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_abc")
	t.Setenv("MYFATOORAH_API_KEY", "mf-key")
	t.Setenv("MYFATOORAH_CALLBACK_URL", "https://example.com/ok")
	t.Setenv("PAPARA_API_KEY", "")

	config := NewProviderConfig()
	config.LoadFromEnv()

	stripe, err := config.GetConfig("stripe")
	require.NoError(t, err)
	assert.Equal(t, "sk_test_123", stripe["secretKey"])
	assert.Equal(t, "whsec_abc", stripe["webhookSecret"])

	mf, err := config.GetConfig("MyFatoorah")
	require.NoError(t, err)
	assert.Equal(t, "mf-key", mf["apiKey"])
	assert.Equal(t, "https://example.com/ok", mf["callbackUrl"])

	_, err = config.GetConfig("papara")
	assert.Error(t, err, "empty variables should not produce a configuration")

	assert.Equal(t, []string{"myfatoorah", "stripe"}, config.GetAvailableProviders())
}

func TestProviderConfig_SetConfig(t *testing.T) {
	config := NewProviderConfig()

	tests := []struct {
		name         string
		providerName string
		configData   map[string]string
		errorMsg     string
	}{
		{
			name:         "valid_config",
			providerName: "papara",
			configData:   map[string]string{"apiKey": "key", "environment": "sandbox"},
		},
		{
			name:         "empty_provider_name",
			providerName: "",
			configData:   map[string]string{"apiKey": "key"},
			errorMsg:     "provider name cannot be empty",
		},
		{
			name:         "empty_config",
			providerName: "papara",
			configData:   map[string]string{},
			errorMsg:     "config cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := config.SetConfig(tt.providerName, tt.configData)
			if tt.errorMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
				return
			}
			require.NoError(t, err)

			stored, err := config.GetConfig(tt.providerName)
			require.NoError(t, err)
			assert.Equal(t, tt.configData, stored)

			stored["apiKey"] = "mutated"
			again, _ := config.GetConfig(tt.providerName)
			assert.Equal(t, "key", again["apiKey"], "GetConfig should return a copy")
		})
	}
}

func TestEnvKeyToField(t *testing.T) {
	tests := map[string]string{
		"API_KEY":          "apiKey",
		"SECRET_KEY":       "secretKey",
		"ENVIRONMENT":      "environment",
		"NOTIFICATION_URL": "notificationUrl",
		"_":                "",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKeyToField(in), in)
	}
}
