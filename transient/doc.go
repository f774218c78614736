// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package transient classifies transport-level errors by transience
category and by the short POSIX-style error code (ETIMEDOUT, ECONNRESET,
ENOTFOUND, ...) that retry configuration is expressed in.
*/
package transient
