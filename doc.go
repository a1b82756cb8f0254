// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package drivers is a container for the DS9097 1-Wire bus master and the
// device drivers that run on top of it.
package drivers
