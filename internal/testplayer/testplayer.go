// Package testplayer provides a small synthetic player script and Go
// reference implementations of its transforms for tests.
package testplayer

import "strings"

// ID is the player version of URL.
const ID = "1a2b3c4d"

// URL is the script path as a watch page references it.
const URL = "/s/player/" + ID + "/player_ias.vflset/en_US/base.js"

// SignatureTimestamp is the timestamp Script declares.
const SignatureTimestamp = 19834

// Script is a player script with an IIFE wrapper, a helper object, a
// signature function reached from the URL builder and an n-function reached
// through an array indirection, guarded by a typeof check.
const Script = `var _yt_player={};(function(g){var window=this;
var Xy={ab:function(a){a.reverse()},
cd:function(a,b){a.splice(0,b)},
ef:function(a,b){var c=a[0];a[0]=a[b%a.length];a[b%a.length]=c}};
var Kq=function(a){a=a.split("");Xy.ef(a,3);Xy.ab(a,0);Xy.cd(a,2);Xy.ef(a,7);return a.join("")};
var nT="abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_".split("");
var nR=function(a,b){return a.slice(b).concat(a.slice(0,b))};
var Yq=function(a){if(typeof Zz==="undefined")return a;var b=a.split(""),c=[];try{for(var d=0;d<b.length;d++){var e=nT.indexOf(b[d]);c.push(e<0?b[d]:nT[(e+7)%nT.length])}c=nR(c,2)}catch(f){return"enhanced_except_"+a}return c.join("")};
var Nq=[Yq];
g.Bu=function(a,b,c){a.set("alr","yes");c&&(c=Kq(decodeURIComponent(c)),a.set(b,encodeURIComponent(c)));return a};
g.Vn=function(a){var b;(b=a.get("n"))&&(b=Nq[0](b),a.set("n",b));return a};
var Cf={signatureTimestamp:19834,cver:"2.0"};
})(_yt_player);
`

// Unparsable is Script with a syntax error appended, forcing the regexp
// declaration scan.
const Unparsable = Script + "var Broken=function(a){return a+;};\n"

const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_"

// DecodeSignature mirrors Kq.
func DecodeSignature(s string) string {
	r := []rune(s)
	swap(r, 3)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	if len(r) >= 2 {
		r = r[2:]
	} else {
		r = r[:0]
	}
	swap(r, 7)
	return string(r)
}

func swap(r []rune, b int) {
	if len(r) == 0 {
		return
	}
	k := b % len(r)
	r[0], r[k] = r[k], r[0]
}

// DecodeN mirrors Yq with the typeof guard removed.
func DecodeN(n string) string {
	out := make([]byte, 0, len(n))
	for i := 0; i < len(n); i++ {
		idx := strings.IndexByte(alphabet, n[i])
		if idx < 0 {
			out = append(out, n[i])
			continue
		}
		out = append(out, alphabet[(idx+7)%len(alphabet)])
	}
	if len(out) <= 2 {
		// slice(2) of a short array is empty, concat keeps the head.
		return string(out)
	}
	return string(out[2:]) + string(out[:2])
}
