// Copyright 2025 Google LLC
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

package blobstore

import (
	"strings"
	"testing"
)

// These exercise the pure content-addressing scheme without a live bucket;
// Put/Open/Delete/Stat themselves need a GCS bucket (or the emulator) and
// have no unit tests here.

func TestContentHandleIsDeterministic(t *testing.T) {
	a := contentHandle(KindUpload, []byte("same bytes"))
	b := contentHandle(KindUpload, []byte("same bytes"))
	if a != b {
		t.Fatalf("expected identical content to produce identical handles, got %q and %q", a, b)
	}
}

func TestContentHandleDiffersByKind(t *testing.T) {
	upload := contentHandle(KindUpload, []byte("payload"))
	snapshot := contentHandle(KindSnapshot, []byte("payload"))
	if upload == snapshot {
		t.Fatalf("expected different kinds to namespace the same content separately")
	}
	if !strings.HasPrefix(upload, string(KindUpload)+"/") {
		t.Fatalf("expected handle to be prefixed with its kind, got %q", upload)
	}
	if !strings.HasPrefix(snapshot, string(KindSnapshot)+"/") {
		t.Fatalf("expected handle to be prefixed with its kind, got %q", snapshot)
	}
}

func TestContentHandleDiffersByContent(t *testing.T) {
	a := contentHandle(KindDiff, []byte("one"))
	b := contentHandle(KindDiff, []byte("two"))
	if a == b {
		t.Fatalf("expected different content to produce different handles")
	}
}
