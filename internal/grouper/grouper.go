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

// Package grouper implements the bucket-seeded, iterative soft-assignment
// clustering described in spec §4.4 — the heart of the Sync Engine. It
// turns a flat set of global-time projections into soft-membership groups.
// The package is pure and non-blocking: no I/O, no shared mutable state,
// safe to call from any number of goroutines concurrently on disjoint
// inputs, and fully exercised by unit tests without a store.
package grouper

import (
	"math"
	"sort"
)

// Observation is a single projected observation: the global-time estimate
// μ and its variance σ², as produced by syncfilter.Project. SensorID is
// carried through untouched for output ordering and tie-breaking. ObsKey
// is an opaque per-observation identity (spec §3: the (sensor_id,
// t_local_nanoseconds) pair) — distinct from SensorID because one sensor
// may have more than one live observation at once (spec §4.2's
// obs:<sensor_id>:<t_local_ns> key layout permits exactly that). The
// clustering logic never inspects it; it is carried through to Member
// purely so a caller can route feedback back to the exact observation a
// membership came from, not just to "some observation from this sensor".
type Observation struct {
	SensorID string
	Mu       float64
	Variance float64
	ObsKey   string
}

// Member is one sensor's soft membership in a Group (spec §3). ObsKey
// identifies which of that sensor's live observations this membership was
// computed from; see Observation.ObsKey.
type Member struct {
	SensorID    string
	Probability float64
	ObsKey      string
}

// Group is one output cluster: an estimated global time and its ordered
// membership (spec §3). Groups are never persisted (Non-goal); this type
// only ever exists for the duration of one Step.
type Group struct {
	TGlobal float64
	Members []Member
}

// AlignmentError returns |TGlobal - trueTime| in the same units as TGlobal.
// Supplements the Python experiment harness's alignment_error_ms helper
// (original_source/experiments/common.py) as a plain query method instead
// of a standalone plotting script, which stays out of scope.
func (g Group) AlignmentError(trueTime float64) float64 {
	return math.Abs(g.TGlobal - trueTime)
}

// MemberProbability returns the membership probability of sensorID in this
// group, or 0 if the sensor is not a member.
func (g Group) MemberProbability(sensorID string) float64 {
	for _, m := range g.Members {
		if m.SensorID == sensorID {
			return m.Probability
		}
	}
	return 0
}

// Config holds the grouper's tunable constants, all given defaults in
// spec §4.4.
type Config struct {
	BucketSize       float64 // seconds; default 1.0 (1000ms)
	MaxIter          int     // default 8
	ConvergenceEps   float64 // default 1e-9
	SplitFactor      float64 // k in spec §4.4 step 6; default 3
	MaxSplitDepth    int     // default 3
	MinVariance      float64 // floor applied to a zero/near-zero variance input
}

// DefaultConfig returns the constants named in spec §4.4.
func DefaultConfig() Config {
	return Config{
		BucketSize:     1.0,
		MaxIter:        8,
		ConvergenceEps: 1e-9,
		SplitFactor:    3.0,
		MaxSplitDepth:  3,
		MinVariance:    1e-18, // (1e-9)^2, the floor for a zero-sigma observation
	}
}

// GroupObservations runs the full clustering algorithm of spec §4.4 over obs and
// returns one Group per final cluster, ascending by TGlobal. NaN inputs
// are rejected (not included in any output group; the caller is expected
// to have already logged them as InvalidObservation — see spec §7) rather
// than causing the whole batch to fail.
func GroupObservations(obs []Observation, cfg Config) []Group {
	clean := make([]Observation, 0, len(obs))
	for _, o := range obs {
		if math.IsNaN(o.Mu) || math.IsNaN(o.Variance) || math.IsInf(o.Mu, 0) || math.IsInf(o.Variance, 0) {
			continue
		}
		if o.Variance < cfg.MinVariance {
			o.Variance = cfg.MinVariance
		}
		clean = append(clean, o)
	}
	if len(clean) == 0 {
		return nil
	}

	candidates := bucketize(clean, cfg.BucketSize)

	var groups []Group
	for _, c := range candidates {
		groups = append(groups, split(c, cfg, 0)...)
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].TGlobal < groups[j].TGlobal })
	for gi := range groups {
		orderMembers(groups[gi].Members)
	}
	return groups
}

// bucketize assigns each observation to an integer bucket and merges
// observations whose buckets form a contiguous run (differ by at most 1)
// into one candidate cluster (spec §4.4 step 1).
func bucketize(obs []Observation, bucketSize float64) [][]Observation {
	type bucketed struct {
		obs    Observation
		bucket int64
	}
	bs := make([]bucketed, len(obs))
	for i, o := range obs {
		bs[i] = bucketed{obs: o, bucket: int64(math.Floor(o.Mu / bucketSize))}
	}
	sort.Slice(bs, func(i, j int) bool {
		if bs[i].bucket != bs[j].bucket {
			return bs[i].bucket < bs[j].bucket
		}
		return bs[i].obs.Mu < bs[j].obs.Mu
	})

	var clusters [][]Observation
	var current []Observation
	var lastBucket int64
	haveLast := false
	for _, b := range bs {
		if haveLast && b.bucket-lastBucket > 1 {
			clusters = append(clusters, current)
			current = nil
		}
		current = append(current, b.obs)
		lastBucket = b.bucket
		haveLast = true
	}
	if len(current) > 0 {
		clusters = append(clusters, current)
	}
	return clusters
}

// split runs the EM soft-assignment (steps 2-5) on obs, then decides
// whether to split it into two sub-clusters (step 6), recursing up to
// cfg.MaxSplitDepth times.
func split(obs []Observation, cfg Config, depth int) []Group {
	if len(obs) == 1 {
		return []Group{{
			TGlobal: obs[0].Mu,
			Members: []Member{{SensorID: obs[0].SensorID, Probability: 1, ObsKey: obs[0].ObsKey}},
		}}
	}

	center, probs := emAssign(obs, cfg)

	if depth >= cfg.MaxSplitDepth {
		return []Group{{TGlobal: center, Members: toMembers(obs, probs)}}
	}

	rms := weightedRMS(obs, probs, center)
	medSigma := medianSigma(obs)
	if rms <= cfg.SplitFactor*medSigma {
		return []Group{{TGlobal: center, Members: toMembers(obs, probs)}}
	}

	groupA, groupB := bipartition(obs, center)
	if len(groupA) == 0 || len(groupB) == 0 {
		// Couldn't find a meaningful split; return unsplit (spec §4.4 step 6
		// fallback: "beyond [max depth], return the unsplit cluster" — the
		// same fallback applies if a split degenerates to one empty side).
		return []Group{{TGlobal: center, Members: toMembers(obs, probs)}}
	}

	var out []Group
	out = append(out, split(groupA, cfg, depth+1)...)
	out = append(out, split(groupB, cfg, depth+1)...)
	return out
}

// emAssign runs center initialisation (step 2) followed by soft
// assignment / center refinement (steps 3-4) iterated per step 5. It
// returns the converged center and one probability per observation in obs
// order.
func emAssign(obs []Observation, cfg Config) (center float64, probs []float64) {
	center = weightedMean(obs, ones(len(obs)))

	probs = make([]float64, len(obs))
	for iter := 0; iter < cfg.MaxIter; iter++ {
		if allEqual(obs) {
			u := 1.0 / float64(len(obs))
			for i := range probs {
				probs[i] = u
			}
			// Uniform probabilities over identical μ still refine the
			// center via inverse-variance weighting (spec: "All-equal μᵢ
			// within a cluster yields uniform probabilities" — it does not
			// say the center is skipped).
			newCenter := weightedMean(obs, probs)
			center = newCenter
			break
		}

		weights := make([]float64, len(obs))
		var sum float64
		for i, o := range obs {
			sigma := math.Sqrt(o.Variance)
			d := o.Mu - center
			w := math.Exp(-0.5*d*d/o.Variance) / sigma
			weights[i] = w
			sum += w
		}
		if sum == 0 {
			u := 1.0 / float64(len(obs))
			for i := range probs {
				probs[i] = u
			}
		} else {
			for i := range probs {
				probs[i] = weights[i] / sum
			}
		}

		newCenter := weightedMean(obs, probs)
		delta := math.Abs(newCenter - center)
		center = newCenter
		if delta < cfg.ConvergenceEps {
			break
		}
	}
	return center, probs
}

// weightedMean computes t̂ = Σ pᵢ·μᵢ/σᵢ² ÷ Σ pᵢ/σᵢ² (spec §4.4 step 4,
// also used for the initial inverse-variance-weighted mean of step 2 with
// pᵢ=1).
func weightedMean(obs []Observation, p []float64) float64 {
	var num, den float64
	for i, o := range obs {
		w := p[i] / o.Variance
		num += w * o.Mu
		den += w
	}
	if den == 0 {
		// All variances effectively infinite; fall back to a plain mean.
		var sum float64
		for _, o := range obs {
			sum += o.Mu
		}
		return sum / float64(len(obs))
	}
	return num / den
}

func weightedRMS(obs []Observation, p []float64, center float64) float64 {
	var sum float64
	for i, o := range obs {
		d := o.Mu - center
		sum += p[i] * d * d
	}
	return math.Sqrt(sum)
}

func medianSigma(obs []Observation) float64 {
	sigmas := make([]float64, len(obs))
	for i, o := range obs {
		sigmas[i] = math.Sqrt(o.Variance)
	}
	sort.Float64s(sigmas)
	n := len(sigmas)
	if n%2 == 1 {
		return sigmas[n/2]
	}
	return (sigmas[n/2-1] + sigmas[n/2]) / 2
}

// bipartition splits obs into two groups seeded by the observation
// furthest from center and the inverse-variance mean of the rest (spec
// §4.4 step 6: "split into two clusters by the observation furthest from
// t̂"), then assigns every observation (including the seed) to its nearer
// seed by a single k=2 assignment pass.
func bipartition(obs []Observation, center float64) (a, b []Observation) {
	furthestIdx := 0
	furthestDist := -1.0
	for i, o := range obs {
		d := math.Abs(o.Mu - center)
		if d > furthestDist {
			furthestDist = d
			furthestIdx = i
		}
	}

	seedA := obs[furthestIdx]
	rest := make([]Observation, 0, len(obs)-1)
	for i, o := range obs {
		if i != furthestIdx {
			rest = append(rest, o)
		}
	}
	seedBMu := weightedMean(rest, ones(len(rest)))

	for _, o := range obs {
		distA := math.Abs(o.Mu - seedA.Mu)
		distB := math.Abs(o.Mu - seedBMu)
		if distA <= distB {
			a = append(a, o)
		} else {
			b = append(b, o)
		}
	}
	return a, b
}

func toMembers(obs []Observation, probs []float64) []Member {
	members := make([]Member, len(obs))
	for i, o := range obs {
		members[i] = Member{SensorID: o.SensorID, Probability: probs[i], ObsKey: o.ObsKey}
	}
	return members
}

// orderMembers sorts members by descending probability, ties broken by
// ascending lexicographic sensor_id (spec §4.4 step 7).
func orderMembers(members []Member) {
	sort.Slice(members, func(i, j int) bool {
		if members[i].Probability != members[j].Probability {
			return members[i].Probability > members[j].Probability
		}
		return members[i].SensorID < members[j].SensorID
	})
}

func allEqual(obs []Observation) bool {
	if len(obs) == 0 {
		return true
	}
	first := obs[0].Mu
	for _, o := range obs[1:] {
		if o.Mu != first {
			return false
		}
	}
	return true
}

func ones(n int) []float64 {
	p := make([]float64, n)
	for i := range p {
		p[i] = 1
	}
	return p
}
