// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sse implements the relay's server-sent event protocol in both
// directions.
//
// The relay writes three frame types, each terminated by a blank line:
//
//	event: delta
//	data: {"delta":"<text>"}
//
//	event: done
//	data: {"ok":true}
//
//	event: error
//	data: {"error":"<message>"}
//
// Emitter writes them on the server, flushing every frame. Parser reads
// them on the client from a body delivered in arbitrary chunks, and
// Dispatch routes each parsed Frame to a Handler.
package sse
