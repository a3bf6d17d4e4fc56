/*
Package cipher extracts the signature and n transform functions from a
player script.

The player script is large, obfuscated and changes without notice. Rather
than running it, Synthesize locates the two entry functions and cuts out a
closed fragment for each: the entry function plus the top-level
declarations it needs. The fragments are compiled and run by the sandbox
package.

# Strategies

Entry functions are located by ranked Matcher strategies. Each candidate
carries a confidence; the highest confidence wins.

Signature function:
  - anchored-callsite (1.0): the call site in the URL builder,
    `set("alr","yes");c&&(c=NAME(decodeURIComponent(...`
  - split-join-body (0.8): a one-parameter function of the shape
    `a=a.split("");OBJ.x(a,N);...;return a.join("")`

N function:
  - n-get-callsite (1.0): `b=a.get("n"))&&(b=NAME(b)` or the array form
    `NAME[IDX](b)` resolved through `var NAME=[F]`
  - n-body-markers (0.7): split, try/catch and join in one body, or the
    known `enhanced_except_` markers

# Errors

Synthesis never guesses. When no strategy yields a candidate the result is
a PATTERN_NOT_FOUND cipher error; when the best candidates tie on
confidence but differ, AMBIGUOUS_MATCH. Both match errs.ErrCipher.

	frags, err := cipher.Synthesize(script)
	if errors.Is(err, errs.ErrAmbiguousMatch) {
		// the player changed shape; report it
	}
*/
package cipher
