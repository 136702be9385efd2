//go:build race

package minisketch

const raceEnabled = true
