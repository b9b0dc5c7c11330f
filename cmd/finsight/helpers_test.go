// Copyright (C) 2025 FinSight AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"testing"
)

func TestGetOrchestratorBaseURL_Default(t *testing.T) {
	t.Setenv("FINSIGHT_ORCHESTRATOR_URL", "")

	expected := fmt.Sprintf("http://%s:%d", DefaultOrchestratorHost, DefaultOrchestratorPort)
	if got := getOrchestratorBaseURL(); got != expected {
		t.Errorf("getOrchestratorBaseURL() = %q, want %q", got, expected)
	}
}

func TestGetOrchestratorBaseURL_EnvOverride(t *testing.T) {
	t.Setenv("FINSIGHT_ORCHESTRATOR_URL", "http://orchestrator:9999")

	if got := getOrchestratorBaseURL(); got != "http://orchestrator:9999" {
		t.Errorf("getOrchestratorBaseURL() = %q, want the env override", got)
	}
}
