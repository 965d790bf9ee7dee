// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama talks to a local Ollama server and reads its streaming
// chat responses.
//
// # Key Types
//
//   - Client: opens streaming chat requests, lists models, checks health
//   - LineReader: pull iterator turning the NDJSON response body into Records
//   - Record: one text fragment plus the completion flag
//   - ClientError: categorized failure with sentinel values
//
// # Usage
//
//	body, err := client.OpenChatStream(ctx, "llama3.2:3b", messages)
//	if err != nil {
//	    return err
//	}
//	defer body.Close()
//
//	lines := ollama.NewLineReader(body)
//	for {
//	    rec, err := lines.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Print(rec.Fragment)
//	}
package ollama
