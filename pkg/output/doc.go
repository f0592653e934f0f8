// Package output renders resolved settings for -G in text, JSON or YAML.
package output
