// Copyright 2018 The gVisor Authors.
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

package ilist

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

type testElem struct {
	Entry[*testElem]
	val int
}

func values(l *List[*testElem]) []int {
	var vs []int
	for e := l.Front(); e != nil; e = e.Next() {
		vs = append(vs, e.val)
	}
	return vs
}

func TestPushRemove(t *testing.T) {
	var l List[*testElem]
	if !l.Empty() {
		t.Fatalf("zero List is not empty")
	}
	elems := make([]*testElem, 4)
	for i := range elems {
		elems[i] = &testElem{val: i}
	}
	l.PushBack(elems[1])
	l.PushBack(elems[2])
	l.PushFront(elems[0])
	l.PushBack(elems[3])
	if diff := cmp.Diff([]int{0, 1, 2, 3}, values(&l)); diff != "" {
		t.Fatalf("after push (-want +got):\n%s", diff)
	}

	l.Remove(elems[0])
	l.Remove(elems[2])
	if diff := cmp.Diff([]int{1, 3}, values(&l)); diff != "" {
		t.Errorf("after remove (-want +got):\n%s", diff)
	}
	if l.Len() != 2 || l.Front() != elems[1] || l.Back() != elems[3] {
		t.Errorf("got len %d front %v back %v, want 2 elems[1] elems[3]", l.Len(), l.Front(), l.Back())
	}

	l.Remove(elems[1])
	l.Remove(elems[3])
	if !l.Empty() {
		t.Errorf("list not empty after removing every element")
	}
}
