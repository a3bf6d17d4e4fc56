// Package ytresolve resolves videos into ready-to-fetch formats and streams
// their bytes.
//
// Resolution reads the player response of a video, decodes the signature
// and n parameters of every format with a program synthesized from the
// player script, and returns the formats ordered combined first, then by
// bitrate:
//
//	c := ytresolve.New()
//	res, err := c.Resolve(ctx, "https://www.youtube.com/watch?v=dQw4w9WgXcQ", ytresolve.Options{})
//	if err != nil {
//		return err
//	}
//	f, err := ytresolve.Choose(res.Formats, ytresolve.Selection{Quality: ytresolve.Highest})
//	if err != nil {
//		return err
//	}
//	for chunk, err := range c.Stream(ctx, f) {
//		if err != nil {
//			return err
//		}
//		w.Write(chunk)
//	}
//
// Compiled programs are cached per player version, so resolving many videos
// served by the same player synthesizes and compiles once. Errors are
// *errs.Error values; match them with errors.Is against the errs sentinels.
package ytresolve
