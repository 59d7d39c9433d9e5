// Package omx orchestrates OpenMAX IL image pipelines: it opens components,
// negotiates their image ports, allocates and recycles buffers, drives the
// component state machine and pumps data between a Source, the components
// and a Sink.
//
// Key pieces include:
//   - Core/Handle: the platform surface, implemented by the VideoCore
//     library binding (NativeCore) and an in-process simulation (SimCore)
//   - Registry and Component: handle lifetime, ports, buffers and states
//   - Dispatcher: platform callbacks turned into an ordered event queue
//   - Tunnel: direct component-to-component connections
//   - Pump and Pipeline: the data loop and ordered teardown
//   - Decode, Encode, Resize, DecodeResize, Read: ready-made pipelines
//
// # Architecture
//
//	Decode:        Source -> image_decode -> Sink
//	Encode:        Source -> image_encode -> Sink
//	Resize:        Source -> resize -> Sink
//	DecodeResize:  Source -> image_decode => resize -> Sink   (=> is a tunnel)
//	Read:          file URI -> image_read -> Sink
//
// All platform events are delivered to one goroutine through the Dispatcher;
// component callbacks never block.
//
// # Native Library
//
// NativeCore loads libopenmaxil.so and libbcm_host.so with purego
// (CGO_ENABLED=0 works). Set OMX_LIB_PATH to the directory containing them;
// /opt/vc/lib is searched by default.
//
// # Build Tags
//
//   - noomx: build without the native binding; only SimCore is available
package omx
