// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package match

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatchesRequiresEqualTopic(t *testing.T) {
	require.False(t, Matches(Endpoint{Topic: "T1"}, Endpoint{Topic: "T2"}))
}

func TestMatchesWildcardSubscriberMediaType(t *testing.T) {
	pub := Endpoint{Topic: "T", MediaType: "application/json"}
	sub := Endpoint{Topic: "T", MediaType: ""}
	require.True(t, Matches(pub, sub))
}

func TestMatchesRejectsMismatchedMediaType(t *testing.T) {
	pub := Endpoint{Topic: "T", MediaType: "application/json"}
	sub := Endpoint{Topic: "T", MediaType: "application/xml"}
	require.False(t, Matches(pub, sub))
}

func TestMandatoryLabelRequiresPublisherValue(t *testing.T) {
	sub := Endpoint{Topic: "T", Labels: []Label{{Key: "VehicleID", Value: "42", Kind: Mandatory}}}
	require.False(t, Matches(Endpoint{Topic: "T"}, sub), "publisher omitted a mandatory key")

	pubWrong := Endpoint{Topic: "T", Labels: []Label{{Key: "VehicleID", Value: "7"}}}
	require.False(t, Matches(pubWrong, sub))

	pubRight := Endpoint{Topic: "T", Labels: []Label{{Key: "VehicleID", Value: "42"}}}
	require.True(t, Matches(pubRight, sub))
}

func TestOptionalLabelAllowsPublisherOmission(t *testing.T) {
	sub := Endpoint{Topic: "T", Labels: []Label{{Key: "Variant", Value: "v1", Kind: Optional}}}
	require.True(t, Matches(Endpoint{Topic: "T"}, sub))

	pubAgrees := Endpoint{Topic: "T", Labels: []Label{{Key: "Variant", Value: "v1"}}}
	require.True(t, Matches(pubAgrees, sub))

	pubDisagrees := Endpoint{Topic: "T", Labels: []Label{{Key: "Variant", Value: "v2"}}}
	require.False(t, Matches(pubDisagrees, sub))
}

func TestPublisherOnlyKeysAreIgnored(t *testing.T) {
	pub := Endpoint{Topic: "T", Labels: []Label{{Key: "Internal", Value: "x"}}}
	sub := Endpoint{Topic: "T"}
	require.True(t, Matches(pub, sub))
}
