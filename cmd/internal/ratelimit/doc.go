// Package ratelimit holds the traffic-governance primitives shared by the
// HTTP surface and realtime sessions: a fixed-window request counter keyed by
// client identity (in-process or Redis-backed), the Governor that applies it to
// inbound traffic, and the per-session Pacer that spaces outbound sends.
package ratelimit
