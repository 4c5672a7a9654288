// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package match computes subscription matches between PubSub
// publishers and subscribers, and the symmetric RPC client/server
// pairing (spec.md §4.6). Matching is pure value comparison over
// strings and maps; there is no third-party library in the example
// corpus that does this more idiomatically than a direct
// implementation, so this package stays on the standard library (see
// DESIGN.md).
package match

// LabelKind distinguishes a Mandatory label (the publisher must supply
// it) from an Optional one (publisher may omit it).
type LabelKind uint8

const (
	Mandatory LabelKind = iota
	Optional
)

// Label is one discriminator key on a publisher or subscriber
// (spec.md §3).
type Label struct {
	Key   string
	Value string
	Kind  LabelKind
}

// Endpoint is the subset of a service descriptor's supplemental data
// that topic matching needs: topic name, media type, and labels.
type Endpoint struct {
	Topic     string
	MediaType string
	Labels    []Label
}

// Matches reports whether publisher pub and subscriber sub are a
// match under spec.md §4.6's three rules: topics compare string-wise,
// media types are equal or the subscriber's is empty (wildcard), and
// every label key is reconciled per its Mandatory/Optional kind.
func Matches(pub, sub Endpoint) bool {
	if pub.Topic != sub.Topic {
		return false
	}
	if sub.MediaType != "" && sub.MediaType != pub.MediaType {
		return false
	}
	return labelsMatch(pub.Labels, sub.Labels)
}

func labelsMatch(pubLabels, subLabels []Label) bool {
	pubByKey := make(map[string]string, len(pubLabels))
	for _, l := range pubLabels {
		pubByKey[l.Key] = l.Value
	}

	for _, s := range subLabels {
		pv, present := pubByKey[s.Key]
		switch s.Kind {
		case Mandatory:
			// Subscriber requires the key regardless of what the
			// publisher declared it as; absence is a mismatch.
			if !present {
				return false
			}
			if pv != s.Value {
				return false
			}
		case Optional:
			// Publisher may omit K; if present, values must agree.
			if present && pv != s.Value {
				return false
			}
		}
	}
	// Keys only on the publisher (not referenced by any subscriber
	// label) are ignored — nothing left to check for them.
	return true
}
