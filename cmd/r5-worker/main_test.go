// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd_SubcommandsRegistered(t *testing.T) {
	require.NotNil(t, rootCmd)
	expected := []string{"run", "config"}
	for _, name := range expected {
		found := false
		for _, cmd := range rootCmd.Commands() {
			if cmd.Name() == name {
				found = true
				break
			}
		}
		assert.Truef(t, found, "command %s not registered", name)
	}
}

func TestLoadConfig_FlagsOverrideEnvironment(t *testing.T) {
	os.Setenv("R5_BROKER_ADDRESS", "from-env")
	defer os.Unsetenv("R5_BROKER_ADDRESS")

	oldAddr, oldPort := flagBrokerAddress, flagBrokerPort
	defer func() { flagBrokerAddress, flagBrokerPort = oldAddr, oldPort }()

	flagBrokerAddress = "from-flag"
	flagBrokerPort = 9999

	cfg := loadConfig()
	assert.Equal(t, "from-flag", cfg.BrokerAddress)
	assert.Equal(t, 9999, cfg.BrokerPort)
}

func TestLoadConfig_FallsBackToEnvironmentWhenNoFlag(t *testing.T) {
	os.Setenv("R5_BROKER_ADDRESS", "from-env-only")
	defer os.Unsetenv("R5_BROKER_ADDRESS")

	oldAddr := flagBrokerAddress
	defer func() { flagBrokerAddress = oldAddr }()
	flagBrokerAddress = ""

	cfg := loadConfig()
	assert.Equal(t, "from-env-only", cfg.BrokerAddress)
}
