/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version holds build identification.
package version

// Version is set at build time via ldflags:
//
//	-X github.com/friendsincode/timegate/internal/version.Version=X.Y.Z
var Version = "0.1.0"

// Commit is the source revision, set alongside Version.
var Commit = "unknown"
