// Package mcl implements Monte Carlo localization: a particle filter
// that fuses odometry deltas with laser range scans ray-cast against a
// line-segment world model.
//
// The package is organised around four pieces:
//
//   - ParticleSet: the weighted pose hypotheses and their resampling.
//   - OdomModel: the motion (prediction) model.
//   - LaserModel: the sensor (measurement) model.
//   - Localizer: the per-scan cycle driver tying them together.
//
// Each piece is usable on its own; the Localizer is the contract a
// runtime embeds.
package mcl
