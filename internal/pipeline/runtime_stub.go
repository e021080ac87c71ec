//go:build !govips || !cgo

package pipeline

func Startup() error {
	return nil
}

func Shutdown() {}

func newSurfaceFactory(resampler Resampler) SurfaceFactory {
	return RasterFactory{Resampler: resampler}
}
