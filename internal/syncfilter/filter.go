// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package syncfilter implements the per-sensor Kalman-style filter over
// (offset, drift) described in spec §4.3. It is the numerical heart of the
// per-sensor time-sync posterior: a 1-D Kalman filter on offset, with drift
// treated as a slowly varying parameter updated by EMA.
//
// No third-party numerics library appears anywhere in the retrieved
// example pack (sfurman3-chatroom hand-rolls its own logical/vector clocks
// rather than reaching for one), so this package stays on the standard
// library's math package, matching that corpus-wide choice.
package syncfilter

import "math"

const (
	// ProcessNoise is q in spec §4.3: offset_var grows by q*Δt per second
	// of elapsed wall time between updates.
	ProcessNoise = 1e-6

	// MinMembershipProbability is p_min: memberships below this do not
	// update the filter (spec §4.3) and are also the floor used inside
	// the innovation-variance denominator.
	MinMembershipProbability = 1e-6

	// DriftEMAAlpha is the smoothing factor for the drift EMA update.
	DriftEMAAlpha = 0.01

	minOffsetVar = 1e-9
	maxOffsetVar = 10.0
	minDrift     = 0.99
	maxDrift     = 1.01
)

// State is the per-sensor sync posterior (spec §3 "Time-sync state").
type State struct {
	OffsetMean float64
	OffsetVar  float64
	Drift      float64
}

// DefaultState is what a sensor gets on first contact (spec §3).
func DefaultState() State {
	return State{OffsetMean: 0, OffsetVar: 0.1, Drift: 1}
}

// Predict applies the time update: variance inflates with elapsed time,
// modeling drift diffusion (spec §4.3, and invariant I6: offset_var only
// decreases on observation, never spontaneously).
func Predict(s State, elapsed float64) State {
	if elapsed < 0 {
		elapsed = 0
	}
	s.OffsetVar = clamp(s.OffsetVar+ProcessNoise*elapsed, minOffsetVar, maxOffsetVar)
	return s
}

// Update applies the measurement update given a grouping result: this
// sensor's observation had membership probability p in a group whose
// estimated global time is tHat, and the observation's own local time was
// tLocal (spec §4.3).
//
// Low-confidence memberships (p < MinMembershipProbability) leave the
// filter untouched, per spec.
func Update(s State, tLocal, tHat, sigma, p float64) State {
	if p < MinMembershipProbability {
		return s
	}
	pEff := math.Max(p, MinMembershipProbability)

	y := tHat - (tLocal*s.Drift + s.OffsetMean)
	S := s.OffsetVar + (sigma*sigma)/pEff
	if S <= 0 {
		// Degenerate innovation variance (can only happen with sigma=0 and
		// an incoming offset_var of zero or below, which Update's own clamp
		// never produces); skip rather than divide by zero.
		return s
	}
	K := s.OffsetVar / S

	s.OffsetMean += K * y
	s.OffsetVar = clamp((1-K)*s.OffsetVar, minOffsetVar, maxOffsetVar)

	denom := math.Abs(tLocal)
	if denom < 1 {
		denom = 1
	}
	s.Drift = clamp((1-DriftEMAAlpha)*s.Drift+DriftEMAAlpha*(1+y/denom), minDrift, maxDrift)

	return s
}

// Project returns the global-time projection μ and its variance σ² for an
// observation with local time tLocal and jitter sigma under this sync
// state (spec §4.4 "Global-time projection").
func Project(s State, tLocal, sigma float64) (mu, variance float64) {
	mu = tLocal*s.Drift + s.OffsetMean
	variance = sigma*sigma + s.OffsetVar
	return mu, variance
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
