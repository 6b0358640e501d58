package imagery

// Evalscripts sent to the Process API. The index scripts mask clouded
// pixels (SCL classes 8, 9, 10) and zero-sum denominators to NaN so the
// engine can exclude them from statistics.

const ndviEvalscript = `//VERSION=3
function setup() {
    return { input: ["B04", "B08", "SCL"], output: { bands: 1, sampleType: "FLOAT32" }};
}
function evaluatePixel(sample) {
    if ([8, 9, 10].includes(sample.SCL)) { return [NaN]; }
    if (sample.B08 + sample.B04 === 0) { return [NaN]; }
    return [(sample.B08 - sample.B04) / (sample.B08 + sample.B04)];
}`

const ndwiEvalscript = `//VERSION=3
function setup() {
    return { input: ["B03", "B08", "SCL"], output: { bands: 1, sampleType: "FLOAT32" }};
}
function evaluatePixel(sample) {
    if ([8, 9, 10].includes(sample.SCL)) { return [NaN]; }
    if (sample.B08 + sample.B03 === 0) { return [NaN]; }
    return [(sample.B03 - sample.B08) / (sample.B03 + sample.B08)];
}`

const trueColorEvalscript = `//VERSION=3
function setup() {
    return {
        input: ["B04", "B03", "B02"],
        output: { bands: 3, sampleType: "UINT8" }
    };
}
function evaluatePixel(sample) {
    const factor = 3.0;
    let red = Math.min(Math.max(sample.B04 / 10000 * factor, 0), 1);
    let green = Math.min(Math.max(sample.B03 / 10000 * factor, 0), 1);
    let blue = Math.min(Math.max(sample.B02 / 10000 * factor, 0), 1);
    return [red * 255, green * 255, blue * 255];
}`
