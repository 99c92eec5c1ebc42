// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concurrency primitives for sortbench: the fixed-size executor that runs
// sort jobs and completion callbacks off the I/O path, and the bounded
// lock-free MPMC queue that backs its fast path.
package concurrency
